package public

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// notifySubmissionReceipt は新規送信の後処理。本人へ自己編集リンクを
// メールで届け、管理者チャンネルへダッシュボードのリンクを通知する。
// いずれも一次書き込みの成否には影響させない。
func (h *Handler) notifySubmissionReceipt(ctx context.Context, submission domain.Submission, editToken string) {
	if ctx == nil {
		ctx = context.Background()
	}

	if email, ok := submission.Fields[domain.FieldEmail].(string); ok && strings.TrimSpace(email) != "" {
		body := buildEditLinkMail(h.editFormBaseURL, editToken, submission)
		if err := h.sendMail(ctx, email, "お申し込みを受け付けました", body); err != nil && h.logger != nil {
			h.logger.Printf("編集リンクメールの送信に失敗: %v", err)
			h.persistDeliveryFailure(ctx, "edit_link_mail", submission.ID, err, 3)
		}
	}

	h.notifyAdminChannel(ctx, submission)
}

// buildEditLinkMail は 30 日間有効な自己編集リンクを含む本文を組み立てる。
func buildEditLinkMail(editFormBaseURL, editToken string, submission domain.Submission) string {
	var builder strings.Builder
	builder.WriteString("この度はお申し込みありがとうございます。\n")

	if name, ok := submission.Fields[domain.FieldClientName].(string); ok && name != "" {
		builder.WriteString(fmt.Sprintf("%s 様\n", name))
	}
	builder.WriteString("\n内容の確認・修正は以下のリンクから行えます（有効期限: 30日 / 1回のみ）。\n")
	if base := strings.TrimRight(strings.TrimSpace(editFormBaseURL), "/"); base != "" {
		builder.WriteString(fmt.Sprintf("%s?token=%s\n", base, editToken))
	}
	return builder.String()
}

// notifyAdminChannel は管理者向け通知を送る。失敗時はリトライのうえ
// failed_deliveries に記録して後追いできるようにする。
func (h *Handler) notifyAdminChannel(ctx context.Context, submission domain.Submission) {
	dest := strings.TrimSpace(h.adminDestination)
	if dest == "" {
		return
	}

	var builder strings.Builder
	builder.WriteString("新しいフォーム送信があります。\n")
	if name, ok := submission.Fields[domain.FieldClientName].(string); ok && name != "" {
		builder.WriteString(fmt.Sprintf("- お名前: %s\n", name))
	}
	if brand, ok := submission.Fields[domain.FieldBrandName].(string); ok && brand != "" {
		builder.WriteString(fmt.Sprintf("- ブランド: %s\n", brand))
	}
	if base := strings.TrimRight(strings.TrimSpace(h.adminBaseURL), "/"); base != "" && submission.ID != "" {
		builder.WriteString(fmt.Sprintf("[管理画面で確認](%s/%s)\n", base, submission.ID))
	}

	if err := h.sendGatewayWithRetry(ctx, "/messages", map[string]any{
		"destination": dest,
		"text":        builder.String(),
	}, 3, 200*time.Millisecond); err != nil {
		if h.logger != nil {
			h.logger.Printf("管理者通知の送信に失敗: %v", err)
		}
		h.persistDeliveryFailure(ctx, "admin_notification", submission.ID, err, 3)
	}
}

// dispatchDelivery は検証済みレコードのドキュメント生成とメール送付を
// ゲートウェイへ依頼する二段階目の本体。
func (h *Handler) dispatchDelivery(ctx context.Context, record json.RawMessage, linkPayload string) {
	jobID := uuid.NewString()
	payload := map[string]any{
		"jobId":       jobID,
		"record":      record,
		"linkPayload": linkPayload,
	}

	if err := h.sendGatewayWithRetry(ctx, "/deliveries", payload, 3, 200*time.Millisecond); err != nil {
		if h.logger != nil {
			h.logger.Printf("ドキュメント生成・メール送付の依頼に失敗: jobId=%s err=%v", jobID, err)
		}
		h.persistDeliveryFailure(ctx, "delivery", jobID, err, 3)
	}
}

// sendMail はメール 1 通分の送信をゲートウェイへ依頼する。
func (h *Handler) sendMail(ctx context.Context, to, subject, body string) error {
	return h.sendGatewayWithRetry(ctx, "/mails", map[string]any{
		"to":      to,
		"subject": subject,
		"text":    body,
	}, 3, 200*time.Millisecond)
}

// sendGatewayWithRetry は固定間隔の再試行つきでゲートウェイを呼ぶ。
func (h *Handler) sendGatewayWithRetry(ctx context.Context, path string, payload map[string]any, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := h.sendGatewayRequest(ctx, path, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return lastErr
}

// sendGatewayRequest は配信ゲートウェイの 1 エンドポイントを呼ぶ。
func (h *Handler) sendGatewayRequest(ctx context.Context, path string, payload map[string]any) error {
	endpoint := strings.TrimRight(strings.TrimSpace(h.gatewayEndpoint), "/")
	if endpoint == "" {
		return errors.New("gateway endpoint is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ゲートウェイ送信用ペイロードの作成に失敗: %w", err)
	}

	timeout := h.httpClient.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxWithTimeout, http.MethodPost, endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ゲートウェイ送信リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ゲートウェイ送信リクエストに失敗: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		message, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
		return fmt.Errorf("ゲートウェイ送信でエラーが発生: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(message)))
	}
	return nil
}

// persistDeliveryFailure は配信失敗を failed_deliveries へ残す。
// ここでの失敗もログに留め、呼び出し元の応答には影響させない。
func (h *Handler) persistDeliveryFailure(ctx context.Context, target, identifier string, cause error, attempts int) {
	if h.failedDeliveries == nil || cause == nil {
		return
	}

	doc := bson.M{
		"target":      target,
		"identifier":  identifier,
		"error":       cause.Error(),
		"attempts":    attempts,
		"status":      "pending",
		"createdAt":   time.Now().UTC(),
		"lastTriedAt": time.Now().UTC(),
	}
	if _, err := h.failedDeliveries.InsertOne(ctx, doc); err != nil && h.logger != nil {
		h.logger.Printf("failed_deliveries への保存に失敗: %v", err)
	}
}
