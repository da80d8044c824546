package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// SubmissionDocument は MongoDB 上でのフォーム送信スキーマ。
// history は追記専用で、並び順はストアへの追記順が正となる。
type SubmissionDocument struct {
	ID              primitive.ObjectID     `bson:"_id"`
	Fields          bson.M                 `bson:"fields"`
	EditToken       string                 `bson:"editToken,omitempty"`
	EditTokenExpiry *time.Time             `bson:"editTokenExpiry,omitempty"`
	History         []HistoryEntryDocument `bson:"history"`
	CreatedAt       time.Time              `bson:"createdAt"`
	UpdatedAt       time.Time              `bson:"updatedAt"`
}

// HistoryEntryDocument は埋め込みの監査エントリ。
type HistoryEntryDocument struct {
	Label     string    `bson:"label"`
	Timestamp time.Time `bson:"timestamp"`
	EditedBy  string    `bson:"editedBy"`
	Note      string    `bson:"note,omitempty"`
}

// QuotaCounterDocument は (callerId, endpoint, windowStart) で一意な
// レート制限カウンタ行。明示的な削除は衛生目的のみで、正しさには不要。
type QuotaCounterDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	CallerID    string             `bson:"callerId"`
	Endpoint    string             `bson:"endpoint"`
	WindowStart time.Time          `bson:"windowStart"`
	Count       int                `bson:"count"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

// mapSubmissionDocument は Mongo ドキュメントをドメインモデルへ復元する。
func mapSubmissionDocument(doc SubmissionDocument) domain.Submission {
	history := make([]domain.HistoryEntry, 0, len(doc.History))
	for _, entry := range doc.History {
		history = append(history, domain.HistoryEntry{
			Label:     domain.HistoryLabel(entry.Label),
			Timestamp: entry.Timestamp,
			EditedBy:  domain.HistoryActor(entry.EditedBy),
			Note:      entry.Note,
		})
	}

	return domain.Submission{
		ID:              doc.ID.Hex(),
		Fields:          mapFieldValues(doc.Fields),
		EditToken:       doc.EditToken,
		EditTokenExpiry: doc.EditTokenExpiry,
		History:         history,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

// mapFieldValues は bson.M のフィールド集合を string / []string / nil に揃える。
// ドライバは配列を primitive.A として返すためここで変換する。
func mapFieldValues(raw bson.M) domain.FieldValues {
	if raw == nil {
		return domain.FieldValues{}
	}
	out := make(domain.FieldValues, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			out[key] = nil
		case string:
			out[key] = v
		case primitive.A:
			list := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			out[key] = list
		case []string:
			out[key] = append([]string(nil), v...)
		}
	}
	return out
}

// mapHistoryEntryDocument はドメインの履歴エントリを埋め込み形式へ変換する。
func mapHistoryEntryDocument(entry domain.HistoryEntry) HistoryEntryDocument {
	return HistoryEntryDocument{
		Label:     string(entry.Label),
		Timestamp: entry.Timestamp,
		EditedBy:  string(entry.EditedBy),
		Note:      entry.Note,
	}
}
