package common

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// WriteJSON serializes payload to JSON with status and logs on failure.
func WriteJSON(logger *log.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Printf("JSON エンコードに失敗: %v", err)
	}
}

// WriteError はセンチネルエラーをステータスコードへ写像して返す。
// 検証・認可エラーはそのまま、ストア障害は内部詳細を伏せた汎用文言にする。
func WriteError(logger *log.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		WriteJSON(logger, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		WriteJSON(logger, w, http.StatusNotFound, map[string]string{"error": "対象の送信が見つかりません"})
	case errors.Is(err, domain.ErrExpired):
		WriteJSON(logger, w, http.StatusGone, map[string]string{"error": "編集トークンの有効期限が切れています"})
	case errors.Is(err, domain.ErrRateLimited):
		WriteJSON(logger, w, http.StatusTooManyRequests, map[string]string{"error": "リクエストが多すぎます。しばらく待ってからお試しください"})
	case errors.Is(err, domain.ErrUnauthorized):
		WriteJSON(logger, w, http.StatusForbidden, map[string]string{"error": "管理者権限が必要です"})
	default:
		if logger != nil {
			logger.Printf("内部エラー: %v", err)
		}
		WriteJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "処理に失敗しました"})
	}
}
