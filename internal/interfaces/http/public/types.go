package public

import (
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// submissionResponse は外部へ返すレコード表現。
// editToken は本人宛メール以外に出さないため含めない。
type submissionResponse struct {
	ID        string                 `json:"id"`
	Fields    map[string]any         `json:"fields"`
	History   []historyEntryResponse `json:"history"`
	CreatedAt string                 `json:"createdAt"`
	UpdatedAt string                 `json:"updatedAt"`
}

type historyEntryResponse struct {
	Label     string `json:"label"`
	Timestamp string `json:"timestamp"`
	EditedBy  string `json:"editedBy"`
	Note      string `json:"note,omitempty"`
}

// continuationResponse は二段階目の呼び出しに必要な束縛情報。
type continuationResponse struct {
	Token       string `json:"token"`
	Timestamp   int64  `json:"timestamp"`
	LinkPayload string `json:"linkPayload,omitempty"`
}

type createSubmissionResponse struct {
	Status       string                `json:"status"`
	Record       submissionResponse    `json:"record"`
	Continuation *continuationResponse `json:"continuation,omitempty"`
}

type mutateSubmissionResponse struct {
	Status string             `json:"status"`
	Record submissionResponse `json:"record"`
}

// buildSubmissionResponse はドメインモデルをレスポンス DTO へ変換する。
func buildSubmissionResponse(submission domain.Submission) submissionResponse {
	history := make([]historyEntryResponse, 0, len(submission.History))
	for _, entry := range submission.History {
		history = append(history, historyEntryResponse{
			Label:     string(entry.Label),
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
			EditedBy:  string(entry.EditedBy),
			Note:      entry.Note,
		})
	}

	fields := make(map[string]any, len(submission.Fields))
	for name, value := range submission.Fields.Clone() {
		fields[name] = value
	}

	return submissionResponse{
		ID:        submission.ID,
		Fields:    fields,
		History:   history,
		CreatedAt: submission.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: submission.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
