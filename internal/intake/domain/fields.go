package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// FieldKind は項目の値形状を表す。
type FieldKind int

const (
	// FieldScalar は単一文字列。空文字は nil に正規化される。
	FieldScalar FieldKind = iota
	// FieldList は文字列配列。単一値でも配列に正規化される。
	FieldList
)

// FieldSpec は許可リスト上の 1 項目分の制約。
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	MaxLen   int
	MaxItems int
	Allowed  []string
	IsEmail  bool
}

// フィールド名の定数。ハンドラとテンプレートで共有する。
const (
	FieldClientName      = "clientName"
	FieldBrandName       = "brandName"
	FieldEmail           = "email"
	FieldProjectType     = "projectType"
	FieldBudgetRange     = "budgetRange"
	FieldDeadline        = "deadline"
	FieldDesignTastes    = "designTastes"
	FieldReferralSources = "referralSources"
	FieldMessage         = "message"
)

// 列挙項目の許可値。フォーム UI 側の選択肢と一致させる。
var (
	AllowedProjectTypes    = []string{"lp", "corporate", "ec", "media", "other"}
	AllowedBudgetRanges    = []string{"under_300k", "300k_500k", "500k_1m", "1m_3m", "over_3m", "undecided"}
	AllowedDesignTastes    = []string{"simple", "luxury", "pop", "natural", "cool", "cute", "trust"}
	AllowedReferralSources = []string{"search", "sns", "referral", "ad", "repeat", "other"}
)

// FieldCatalog は受理するフィールドの許可リスト。ここに無いキーは全て拒否する。
var FieldCatalog = []FieldSpec{
	{Name: FieldClientName, Kind: FieldScalar, MaxLen: 120},
	{Name: FieldBrandName, Kind: FieldScalar, MaxLen: 120},
	{Name: FieldEmail, Kind: FieldScalar, MaxLen: 254, IsEmail: true},
	{Name: FieldProjectType, Kind: FieldScalar, MaxLen: 40, Allowed: AllowedProjectTypes},
	{Name: FieldBudgetRange, Kind: FieldScalar, MaxLen: 40, Allowed: AllowedBudgetRanges},
	{Name: FieldDeadline, Kind: FieldScalar, MaxLen: 40},
	{Name: FieldDesignTastes, Kind: FieldList, MaxLen: 40, MaxItems: 8, Allowed: AllowedDesignTastes},
	{Name: FieldReferralSources, Kind: FieldList, MaxLen: 40, MaxItems: 8, Allowed: AllowedReferralSources},
	{Name: FieldMessage, Kind: FieldScalar, MaxLen: 4000},
}

var fieldCatalogByName = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(FieldCatalog))
	for _, spec := range FieldCatalog {
		m[spec.Name] = spec
	}
	return m
}()

// FieldValues は正規化済みのフィールド集合。
// 値は string / []string / nil のいずれかに限られる。
type FieldValues map[string]any

// Clone は History や EditToken と切り離した浅いコピーを返す。
func (v FieldValues) Clone() FieldValues {
	if v == nil {
		return nil
	}
	out := make(FieldValues, len(v))
	for k, val := range v {
		if list, ok := val.([]string); ok {
			out[k] = append([]string(nil), list...)
			continue
		}
		out[k] = val
	}
	return out
}

// Merge は other の各キーで自身を上書きした新しい集合を返す。
func (v FieldValues) Merge(other FieldValues) FieldValues {
	merged := v.Clone()
	if merged == nil {
		merged = FieldValues{}
	}
	for k, val := range other.Clone() {
		merged[k] = val
	}
	return merged
}

// NormalizeFields は受信ペイロードを許可リストへ突き合わせて正規化する。
// 最初の違反で全体を拒否し、部分的な書き込みは発生させない。
func NormalizeFields(input map[string]any) (FieldValues, error) {
	out := make(FieldValues, len(input))
	for name, raw := range input {
		spec, ok := fieldCatalogByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: フィールド %q は受け付けられません", ErrValidation, name)
		}

		value, err := normalizeField(spec, raw)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// normalizeField は 1 項目を形状・長さ・許可値の順に検査する。
func normalizeField(spec FieldSpec, raw any) (any, error) {
	if spec.Kind == FieldList {
		return normalizeListField(spec, raw)
	}
	return normalizeScalarField(spec, raw)
}

func normalizeScalarField(spec FieldSpec, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s は文字列で指定してください", ErrValidation, spec.Name)
	}

	// 空文字は nil に正規化する。列挙チェックの対象外となる。
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > spec.MaxLen {
		return nil, fmt.Errorf("%w: %s は%d文字以内で入力してください", ErrValidation, spec.Name, spec.MaxLen)
	}
	if spec.IsEmail {
		if _, err := mail.ParseAddress(trimmed); err != nil {
			return nil, fmt.Errorf("%w: メールアドレスの形式が正しくありません", ErrValidation)
		}
	}
	if len(spec.Allowed) > 0 && !containsString(spec.Allowed, trimmed) {
		return nil, fmt.Errorf("%w: %s の値 %q は選択肢にありません", ErrValidation, spec.Name, trimmed)
	}
	return trimmed, nil
}

// normalizeListField は単一値・配列のいずれの形でも []string か nil に揃える。
func normalizeListField(spec FieldSpec, raw any) (any, error) {
	var items []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{v}
	case []any:
		items = v
	case []string:
		items = make([]any, 0, len(v))
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("%w: %s は文字列または配列で指定してください", ErrValidation, spec.Name)
	}

	if spec.MaxItems > 0 && len(items) > spec.MaxItems {
		return nil, fmt.Errorf("%w: %s は最大%d件までです", ErrValidation, spec.Name, spec.MaxItems)
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s の要素は文字列で指定してください", ErrValidation, spec.Name)
		}
		trimmed := strings.TrimSpace(str)
		if trimmed == "" {
			continue
		}
		if utf8.RuneCountInString(trimmed) > spec.MaxLen {
			return nil, fmt.Errorf("%w: %s の要素は%d文字以内で入力してください", ErrValidation, spec.Name, spec.MaxLen)
		}
		if len(spec.Allowed) > 0 && !containsString(spec.Allowed, trimmed) {
			return nil, fmt.Errorf("%w: %s の値 %q は選択肢にありません", ErrValidation, spec.Name, trimmed)
		}
		values = append(values, trimmed)
	}

	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func containsString(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
