package public

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
)

// ペイロード上の制御キー。業務フィールドの許可リストとは別枠で解釈する。
const (
	controlKeyEditToken  = "editToken"
	controlKeyOverrideID = "overrideId"
	controlKeyNote       = "note"
)

// submissionMutateHandler は create / token-edit / admin-override の
// 3 経路を排他的に解決する書き込みエンドポイント。
func (h *Handler) submissionMutateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter.IsLimited(r.Context(), callerID(r), h.submitPolicy) {
			common.WriteError(h.logger, w, domain.ErrRateLimited)
			return
		}

		defer r.Body.Close()

		payload, err := decodeSubmissionPayload(r.Body)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		editToken := popControlString(payload, controlKeyEditToken)
		overrideID := popControlString(payload, controlKeyOverrideID)
		note := popControlString(payload, controlKeyNote)

		if editToken != "" && overrideID != "" {
			common.WriteError(h.logger, w, fmt.Errorf("%w: editToken と overrideId は同時に指定できません", domain.ErrValidation))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		switch {
		case editToken != "":
			h.handleTokenEdit(ctx, w, editToken, payload)
		case overrideID != "":
			h.handleAdminOverride(ctx, w, r, overrideID, note, payload)
		default:
			h.handleCreate(ctx, w, payload)
		}
	}
}

// handleCreate は新規作成。成功時は継続トークンを発行し、編集リンクの
// メール送付と管理者通知を非同期で依頼する。
func (h *Handler) handleCreate(ctx context.Context, w http.ResponseWriter, payload map[string]any) {
	result, err := h.mutations.Create(ctx, payload)
	if err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	record := buildSubmissionResponse(*result.Submission)
	recordJSON, err := json.Marshal(record)
	if err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	// linkPayload はレコードの参照パス。編集トークンは含めない。
	linkPayload := "/submissions/" + record.ID
	issuedAt := time.Now().UTC()
	token, err := h.signer.Issue(recordJSON, linkPayload, issuedAt)
	if err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	go h.notifySubmissionReceipt(context.Background(), *result.Submission, result.EditToken)

	common.WriteJSON(h.logger, w, http.StatusCreated, createSubmissionResponse{
		Status: "ok",
		Record: record,
		Continuation: &continuationResponse{
			Token:       token,
			Timestamp:   issuedAt.UnixMilli(),
			LinkPayload: linkPayload,
		},
	})
}

// handleTokenEdit は単回使用トークンによる自己編集。
func (h *Handler) handleTokenEdit(ctx context.Context, w http.ResponseWriter, token string, payload map[string]any) {
	updated, err := h.mutations.EditByToken(ctx, token, payload)
	if err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	common.WriteJSON(h.logger, w, http.StatusOK, mutateSubmissionResponse{
		Status: "ok",
		Record: buildSubmissionResponse(*updated),
	})
}

// handleAdminOverride は管理者資格を検証したうえでエンジンの override
// 経路を呼ぶ。対象不在時の新規挿入は 201 で区別して返す。
func (h *Handler) handleAdminOverride(ctx context.Context, w http.ResponseWriter, r *http.Request, overrideID, note string, payload map[string]any) {
	if _, err := h.adminAuth(r); err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	result, err := h.mutations.AdminOverride(ctx, application.AdminOverrideCommand{
		TargetID: overrideID,
		Payload:  payload,
		Note:     note,
	})
	if err != nil {
		common.WriteError(h.logger, w, err)
		return
	}

	status := http.StatusOK
	if result.Inserted {
		status = http.StatusCreated
	}
	common.WriteJSON(h.logger, w, status, mutateSubmissionResponse{
		Status: "ok",
		Record: buildSubmissionResponse(*result.Submission),
	})
}

// decodeSubmissionPayload はボディをサイズ・キー数の上限つきで読み込む。
// 業務フィールドの検証より前に処理コストを抑えるための砦。
func decodeSubmissionPayload(body io.Reader) (map[string]any, error) {
	var payload map[string]any
	decoder := json.NewDecoder(io.LimitReader(body, common.MaxSubmissionRequestBody))
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: リクエストの形式が不正です: %v", domain.ErrValidation, err)
	}
	if len(payload) > common.MaxSubmissionFieldCount {
		return nil, fmt.Errorf("%w: フィールド数が多すぎます", domain.ErrValidation)
	}
	return payload, nil
}

// popControlString は制御キーを取り出してペイロードから除去する。
func popControlString(payload map[string]any, key string) string {
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	delete(payload, key)
	if str, ok := raw.(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}
