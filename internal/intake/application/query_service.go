package application

import (
	"context"
	"time"

	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// NewQueryService は参照ユースケースを構築する。
func NewQueryService(repo SubmissionRepository) QueryService {
	return &queryService{repo: repo, now: time.Now}
}

type queryService struct {
	repo SubmissionRepository
	now  func() time.Time
}

// FindByEditToken は未失効トークンに対応するレコードを返す。
// 失効済みは domain.ErrExpired として未発見と区別する。
func (s *queryService) FindByEditToken(ctx context.Context, token string) (*domain.Submission, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}

	submission, err := s.repo.FindByEditToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !submission.EditTokenValid(s.now().UTC()) {
		return nil, domain.ErrExpired
	}
	return submission, nil
}

func (s *queryService) List(ctx context.Context, filter SubmissionFilter, paging Paging) ([]domain.Submission, error) {
	return s.repo.Find(ctx, filter, paging)
}

func (s *queryService) Detail(ctx context.Context, id string) (*domain.Submission, error) {
	return s.repo.FindByID(ctx, id)
}
