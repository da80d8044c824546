package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
)

func (h *Handler) submissionListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		keyword := strings.TrimSpace(query.Get("keyword"))
		limit, _ := common.ParsePositiveInt(query.Get("limit"), 0)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		submissions, err := h.queries.List(ctx, application.SubmissionFilter{Keyword: keyword}, application.Paging{Limit: limit})
		if err != nil {
			h.logger.Printf("admin submission list fetch failed: %v", err)
			common.WriteJSON(h.logger, w, http.StatusInternalServerError, map[string]string{"error": "送信一覧の取得に失敗しました"})
			return
		}

		items := make([]adminSubmissionResponse, 0, len(submissions))
		for _, submission := range submissions {
			items = append(items, buildAdminSubmissionResponse(submission))
		}
		common.WriteJSON(h.logger, w, http.StatusOK, adminSubmissionListResponse{Items: items})
	}
}

func (h *Handler) submissionDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := strings.TrimSpace(chi.URLParam(r, "id"))
		if idParam == "" {
			common.WriteJSON(h.logger, w, http.StatusBadRequest, map[string]string{"error": "送信IDが指定されていません"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		submission, err := h.queries.Detail(ctx, idParam)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, buildAdminSubmissionResponse(*submission))
	}
}

// submissionOverrideHandler はダッシュボードからの上書き。公開側の
// POST /submissions の override 経路と同じエンジンを通る。
func (h *Handler) submissionOverrideHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := strings.TrimSpace(chi.URLParam(r, "id"))
		if idParam == "" {
			common.WriteJSON(h.logger, w, http.StatusBadRequest, map[string]string{"error": "送信IDが指定されていません"})
			return
		}

		defer r.Body.Close()

		var req adminOverrideRequest
		decoder := json.NewDecoder(io.LimitReader(r.Body, common.MaxSubmissionRequestBody))
		if err := decoder.Decode(&req); err != nil {
			common.WriteError(h.logger, w, fmt.Errorf("%w: リクエストの形式が不正です: %v", domain.ErrValidation, err))
			return
		}
		if len(req.Fields) > common.MaxSubmissionFieldCount {
			common.WriteError(h.logger, w, fmt.Errorf("%w: フィールド数が多すぎます", domain.ErrValidation))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := h.mutations.AdminOverride(ctx, application.AdminOverrideCommand{
			TargetID: idParam,
			Payload:  req.Fields,
			Note:     strings.TrimSpace(req.Note),
		})
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		status := http.StatusOK
		if result.Inserted {
			status = http.StatusCreated
		}
		common.WriteJSON(h.logger, w, status, buildAdminSubmissionResponse(*result.Submission))
	}
}
