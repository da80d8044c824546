package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// editTokenBytes は編集トークンの乱数長。hex で 64 文字になる。
const editTokenBytes = 32

// NewMutationService は書き込みユースケースを構築する。
func NewMutationService(repo SubmissionRepository) MutationService {
	return &mutationService{repo: repo, now: time.Now}
}

type mutationService struct {
	repo SubmissionRepository
	now  func() time.Time
}

// Create は新規レコードを構築して挿入する。履歴は original/client の
// 1 件から始まり、単回使用の編集トークンを 30 日期限で払い出す。
func (s *mutationService) Create(ctx context.Context, payload map[string]any) (*CreateResult, error) {
	fields, err := domain.NormalizeFields(payload)
	if err != nil {
		return nil, err
	}
	if fields[domain.FieldClientName] == nil {
		return nil, fmt.Errorf("%w: お名前は必須です", domain.ErrValidation)
	}
	if fields[domain.FieldEmail] == nil {
		return nil, fmt.Errorf("%w: メールアドレスは必須です", domain.ErrValidation)
	}

	token, err := newEditToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiry := now.Add(domain.EditTokenTTL)
	submission := &domain.Submission{
		Fields:          fields,
		EditToken:       token,
		EditTokenExpiry: &expiry,
		History: []domain.HistoryEntry{
			domain.NewHistoryEntry(domain.HistoryOriginal, domain.ActorClient, now),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, submission); err != nil {
		return nil, err
	}
	return &CreateResult{Submission: submission, EditToken: token}, nil
}

// EditByToken は編集トークンによる本人の自己編集。トークンは 1 回の
// 成功で消し込まれ、再利用は未発見として扱われる。検証エラー時は
// 一切書き込まない。
func (s *mutationService) EditByToken(ctx context.Context, token string, payload map[string]any) (*domain.Submission, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: 編集トークンが空です", domain.ErrValidation)
	}

	fields, err := domain.NormalizeFields(payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := domain.NewHistoryEntry(domain.HistoryEdited, domain.ActorClient, now)

	updated, err := s.repo.ConsumeEditToken(ctx, token, fields, entry, now)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// 条件付き更新が空振りした場合、トークン自体は存在するが失効して
	// いる可能性がある。呼び出し側が別メッセージを出せるよう区別する。
	existing, lookupErr := s.repo.FindByEditToken(ctx, token)
	if lookupErr == nil && existing != nil && !existing.EditTokenValid(now) {
		return nil, domain.ErrExpired
	}
	return nil, domain.ErrNotFound
}

// AdminOverride は管理者による上書き。対象が存在しない場合は新規挿入
// する分岐を明示的に持つ。この挙動は管理ダッシュボードの取り込み補完が
// 依存しているため、失敗ではなく独立した経路として扱う。
// 認可（管理者であること）は本エンジンに到達する前に済んでいる前提。
func (s *mutationService) AdminOverride(ctx context.Context, cmd AdminOverrideCommand) (*OverrideResult, error) {
	if cmd.TargetID == "" {
		return nil, fmt.Errorf("%w: 対象の送信IDを指定してください", domain.ErrValidation)
	}

	fields, err := domain.NormalizeFields(cmd.Payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := domain.NewHistoryEntry(domain.HistoryEdited, domain.ActorAdmin, now)
	entry.Note = cmd.Note

	updated, err := s.repo.MergeByID(ctx, cmd.TargetID, fields, entry, now)
	if err == nil {
		return &OverrideResult{Submission: updated}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// 明示的な insert-on-missing 分岐。履歴の先頭は必ず original。
	// ID は指定された対象 ID を引き継ぎ、ダッシュボードのリンクを保つ。
	inserted := &domain.Submission{
		ID:     cmd.TargetID,
		Fields: fields,
		History: []domain.HistoryEntry{
			{Label: domain.HistoryOriginal, EditedBy: domain.ActorAdmin, Timestamp: now, Note: cmd.Note},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, inserted); err != nil {
		return nil, err
	}
	return &OverrideResult{Submission: inserted, Inserted: true}, nil
}

// newEditToken は推測不能な単回使用トークンを生成する。
func newEditToken() (string, error) {
	buf := make([]byte, editTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("編集トークンの生成に失敗: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
