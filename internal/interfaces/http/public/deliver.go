package public

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/continuation"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
)

type deliverRequest struct {
	Record      json.RawMessage `json:"record"`
	Timestamp   int64           `json:"timestamp"`
	Token       string          `json:"token"`
	LinkPayload string          `json:"linkPayload,omitempty"`
}

// deliverHandler は二段階目の入口。継続トークンの検証に通った場合のみ
// ドキュメント生成とメール送信をゲートウェイへ依頼する。依頼は非同期で、
// 下流の失敗はログと failed_deliveries に残すだけで呼び出し元へは返さない。
func (h *Handler) deliverHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter.IsLimited(r.Context(), callerID(r), h.deliverPolicy) {
			common.WriteError(h.logger, w, domain.ErrRateLimited)
			return
		}

		defer r.Body.Close()

		var req deliverRequest
		decoder := json.NewDecoder(io.LimitReader(r.Body, common.MaxDeliverRequestBody))
		if err := decoder.Decode(&req); err != nil {
			common.WriteError(h.logger, w, fmt.Errorf("%w: リクエストの形式が不正です: %v", domain.ErrValidation, err))
			return
		}
		if len(req.Record) == 0 || req.Token == "" || req.Timestamp == 0 {
			common.WriteError(h.logger, w, fmt.Errorf("%w: record, timestamp, token は必須です", domain.ErrValidation))
			return
		}

		issuedAt := time.UnixMilli(req.Timestamp).UTC()
		if err := h.signer.Verify(req.Record, req.LinkPayload, req.Token, issuedAt, time.Now().UTC()); err != nil {
			switch {
			case errors.Is(err, continuation.ErrExpired):
				common.WriteError(h.logger, w, domain.ErrExpired)
			default:
				common.WriteError(h.logger, w, fmt.Errorf("%w: 継続トークンが一致しません", domain.ErrValidation))
			}
			return
		}

		go h.dispatchDelivery(context.Background(), req.Record, req.LinkPayload)

		common.WriteJSON(h.logger, w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}
