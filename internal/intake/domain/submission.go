package domain

import "time"

// EditTokenTTL は自己編集トークンの有効期間。
const EditTokenTTL = 30 * 24 * time.Hour

// HistoryLabel は履歴エントリの種別。
type HistoryLabel string

const (
	HistoryOriginal HistoryLabel = "original"
	HistoryEdited   HistoryLabel = "edited"
)

// HistoryActor は誰が書き込んだかを表す。
type HistoryActor string

const (
	ActorAdmin   HistoryActor = "admin"
	ActorClient  HistoryActor = "client"
	ActorUnknown HistoryActor = "unknown"
)

// HistoryEntry は送信レコードに埋め込まれる追記専用の監査エントリ。
// 並び順はストア側の追記順が正であり、Timestamp の値では並べ替えない。
type HistoryEntry struct {
	Label     HistoryLabel
	Timestamp time.Time
	EditedBy  HistoryActor
	Note      string
}

// Submission はフォーム送信 1 件を表す集約。
// History は空にならず、先頭エントリのラベルは必ず original である。
type Submission struct {
	ID              string
	Fields          FieldValues
	EditToken       string
	EditTokenExpiry *time.Time
	History         []HistoryEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EditTokenValid は現在時刻でトークンが使用可能かを判定する。
func (s *Submission) EditTokenValid(now time.Time) bool {
	if s.EditToken == "" || s.EditTokenExpiry == nil {
		return false
	}
	return now.Before(*s.EditTokenExpiry)
}

// NewHistoryEntry は履歴エントリを現在時刻付きで構築する。
func NewHistoryEntry(label HistoryLabel, actor HistoryActor, now time.Time) HistoryEntry {
	return HistoryEntry{Label: label, EditedBy: actor, Timestamp: now.UTC()}
}
