// Package application はフォーム送信のユースケースとポートを定義する。
package application

import (
	"context"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// SubmissionRepository は送信レコードの永続化ポート。
// 各ミューテーションはストア側で単一ステートメントとして実行され、
// 履歴の追記は読み出し・書き戻しではなく更新文に含める契約とする。
type SubmissionRepository interface {
	// Insert は新規レコードを追加し、採番された ID をモデルへ反映する。
	Insert(ctx context.Context, submission *domain.Submission) error

	// FindByID は ID で 1 件取得する。未発見は domain.ErrNotFound。
	FindByID(ctx context.Context, id string) (*domain.Submission, error)

	// FindByEditToken は編集トークンで 1 件取得する。期限は判定しない。
	FindByEditToken(ctx context.Context, token string) (*domain.Submission, error)

	// ConsumeEditToken は「トークン一致かつ未失効」を条件に、フィールド
	// 反映・履歴追記・トークン消込を 1 回の条件付き更新で行う。
	// 条件を満たす行が無ければ domain.ErrNotFound。
	ConsumeEditToken(ctx context.Context, token string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error)

	// MergeByID は既存レコードへフィールド反映と履歴追記を 1 回の
	// 更新で行う。対象が無ければ domain.ErrNotFound。
	MergeByID(ctx context.Context, id string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error)

	// Find は管理ダッシュボード向けの一覧取得。
	Find(ctx context.Context, filter SubmissionFilter, paging Paging) ([]domain.Submission, error)
}

// SubmissionFilter は一覧の検索条件。
type SubmissionFilter struct {
	Keyword string
}

// Paging はページングを制御する。
type Paging struct {
	Limit int
}

// CreateResult は新規作成の結果。EditToken は本人へのメール以外には出さない。
type CreateResult struct {
	Submission *domain.Submission
	EditToken  string
}

// AdminOverrideCommand は管理者による上書きの入力。
type AdminOverrideCommand struct {
	TargetID string
	Payload  map[string]any
	Note     string
}

// OverrideResult は上書き結果。Inserted は対象不在時の新規挿入分岐を通ったことを示す。
type OverrideResult struct {
	Submission *domain.Submission
	Inserted   bool
}

// MutationService は 1 リクエストに対して create / token-edit /
// admin-override のいずれか 1 経路だけを適用する書き込みユースケース。
type MutationService interface {
	Create(ctx context.Context, payload map[string]any) (*CreateResult, error)
	EditByToken(ctx context.Context, token string, payload map[string]any) (*domain.Submission, error)
	AdminOverride(ctx context.Context, cmd AdminOverrideCommand) (*OverrideResult, error)
}

// QueryService は参照ユースケース。
type QueryService interface {
	FindByEditToken(ctx context.Context, token string) (*domain.Submission, error)
	List(ctx context.Context, filter SubmissionFilter, paging Paging) ([]domain.Submission, error)
	Detail(ctx context.Context, id string) (*domain.Submission, error)
}
