// Package domain はフォーム送信の集約と検証規則を定義する。
package domain

import "errors"

// レイヤー間で安定したエラー判定を行うためのセンチネル。
// HTTP 層はこれらを対応するステータスコードへ写像する。
var (
	// ErrValidation は許可されていない/超過した/不正な入力フィールドを示す。
	ErrValidation = errors.New("validation failed")

	// ErrNotFound は存在しない送信 ID・編集トークンを示す。
	ErrNotFound = errors.New("submission not found")

	// ErrExpired は期限切れの編集トークンを示す。未発見とは区別する。
	ErrExpired = errors.New("edit token expired")

	// ErrRateLimited は割り当て超過を示す。
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream は共有ストアや外部 API への到達失敗を示す。
	ErrUpstream = errors.New("upstream unavailable")

	// ErrUnauthorized は管理者資格のない override 要求を示す。
	ErrUnauthorized = errors.New("unauthorized")
)
