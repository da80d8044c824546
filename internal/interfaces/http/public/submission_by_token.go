package public

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
)

// submissionByTokenHandler は編集トークンに対応するレコードを返す。
// 失効済みトークンは 410 とし、未発見の 404 と区別する。
func (h *Handler) submissionByTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			common.WriteError(h.logger, w, domain.ErrNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		submission, err := h.queries.FindByEditToken(ctx, token)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, mutateSubmissionResponse{
			Status: "ok",
			Record: buildSubmissionResponse(*submission),
		})
	}
}
