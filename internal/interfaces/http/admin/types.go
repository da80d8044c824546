package admin

import (
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

type adminOverrideRequest struct {
	Fields map[string]any `json:"fields"`
	Note   string         `json:"note,omitempty"`
}

type adminSubmissionListResponse struct {
	Items []adminSubmissionResponse `json:"items"`
}

// adminSubmissionResponse はダッシュボード向けのレコード表現。
// 公開側と異なり編集トークンの有無と期限も見せる。
type adminSubmissionResponse struct {
	ID              string                      `json:"id"`
	Fields          map[string]any              `json:"fields"`
	History         []adminHistoryEntryResponse `json:"history"`
	HasEditToken    bool                        `json:"hasEditToken"`
	EditTokenExpiry string                      `json:"editTokenExpiry,omitempty"`
	CreatedAt       string                      `json:"createdAt"`
	UpdatedAt       string                      `json:"updatedAt"`
}

type adminHistoryEntryResponse struct {
	Label     string `json:"label"`
	Timestamp string `json:"timestamp"`
	EditedBy  string `json:"editedBy"`
	Note      string `json:"note,omitempty"`
}

func buildAdminSubmissionResponse(submission domain.Submission) adminSubmissionResponse {
	history := make([]adminHistoryEntryResponse, 0, len(submission.History))
	for _, entry := range submission.History {
		history = append(history, adminHistoryEntryResponse{
			Label:     string(entry.Label),
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
			EditedBy:  string(entry.EditedBy),
			Note:      entry.Note,
		})
	}

	resp := adminSubmissionResponse{
		ID:           submission.ID,
		Fields:       map[string]any(submission.Fields.Clone()),
		History:      history,
		HasEditToken: submission.EditToken != "",
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    submission.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if submission.EditTokenExpiry != nil {
		resp.EditTokenExpiry = submission.EditTokenExpiry.UTC().Format(time.RFC3339)
	}
	return resp
}
