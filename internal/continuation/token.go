// Package continuation は二段階処理の受け渡しに使う署名付きトークンを扱う。
//
// 一段階目（送信の保存）の成功時に、レコードのスナップショットへ
// HMAC で束縛したトークンを発行し、クライアント経由で呼び出される
// 二段階目（ドキュメント生成とメール送信）はこのトークンの検証だけを
// 信頼の根拠とする。レコードが 1 フィールドでも差し替えられた場合や、
// 有効期間を過ぎた場合は必ず拒否する。
package continuation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL はトークンの既定の有効期間。
const DefaultTTL = 5 * time.Minute

var (
	// ErrInvalid は署名不一致（改ざん・別レコードへの差し替え）を示す。
	ErrInvalid = errors.New("continuation token invalid")

	// ErrExpired は有効期間切れを示す。再試行ではなく一段階目のやり直しが必要。
	ErrExpired = errors.New("continuation token expired")
)

// Signer はトークンの発行と検証を行う。secret が無い構成は起動時に
// 弾く前提であり、Signer 自体は常にフェイルクローズで動作する。
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner は秘密鍵を束縛した Signer を返す。ttl が 0 以下なら既定値を使う。
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("continuation secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: secret, ttl: ttl}, nil
}

// Issue はレコードの JSON スナップショットとリンクペイロードに
// issuedAt を束縛したトークンを発行する。
func (s *Signer) Issue(record []byte, linkPayload string, issuedAt time.Time) (string, error) {
	hash, err := recordHash(record)
	if err != nil {
		return "", err
	}
	return s.sign(issuedAt, hash, linkPayload), nil
}

// Verify はクライアントから渡された (record, issuedAt, token, linkPayload) を
// 検証する。供給されたレコードからハッシュを再計算し、一定時間比較で
// 署名を照合したうえで経過時間を確認する。
func (s *Signer) Verify(record []byte, linkPayload, token string, issuedAt, now time.Time) error {
	hash, err := recordHash(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	expected := s.sign(issuedAt, hash, linkPayload)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrInvalid
	}

	age := now.Sub(issuedAt)
	if age < 0 || age > s.ttl {
		return ErrExpired
	}
	return nil
}

// sign は timestamp || recordHash || linkPayload のダイジェストを計算する。
func (s *Signer) sign(issuedAt time.Time, hash []byte, linkPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(issuedAt.UnixMilli(), 10)))
	mac.Write([]byte("|"))
	mac.Write(hash)
	mac.Write([]byte("|"))
	mac.Write([]byte(linkPayload))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordHash は JSON を正準形（キー昇順・余白なし）に直してから
// SHA-256 を取る。クライアント経由でキー順や空白が変わっても
// 同一内容なら同一ハッシュになる。
func recordHash(record []byte) ([]byte, error) {
	canonical, err := CanonicalJSON(record)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// CanonicalJSON は JSON バイト列をキー昇順で再シリアライズする。
func CanonicalJSON(raw []byte) ([]byte, error) {
	var value any
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("record is not valid JSON: %w", err)
	}

	var builder strings.Builder
	if err := writeCanonical(&builder, value); err != nil {
		return nil, err
	}
	return []byte(builder.String()), nil
}

func writeCanonical(builder *strings.Builder, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		builder.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				builder.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			builder.Write(encodedKey)
			builder.WriteByte(':')
			if err := writeCanonical(builder, v[k]); err != nil {
				return err
			}
		}
		builder.WriteByte('}')
		return nil
	case []any:
		builder.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				builder.WriteByte(',')
			}
			if err := writeCanonical(builder, item); err != nil {
				return err
			}
		}
		builder.WriteByte(']')
		return nil
	case json.Number:
		builder.WriteString(v.String())
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		builder.Write(encoded)
		return nil
	}
}
