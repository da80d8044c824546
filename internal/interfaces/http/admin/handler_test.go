package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

type stubServices struct {
	submissions []domain.Submission
	override    *application.OverrideResult
	overrideErr error
	lastCmd     application.AdminOverrideCommand
}

func (s *stubServices) Create(context.Context, map[string]any) (*application.CreateResult, error) {
	return nil, domain.ErrValidation
}

func (s *stubServices) EditByToken(context.Context, string, map[string]any) (*domain.Submission, error) {
	return nil, domain.ErrNotFound
}

func (s *stubServices) AdminOverride(_ context.Context, cmd application.AdminOverrideCommand) (*application.OverrideResult, error) {
	s.lastCmd = cmd
	if s.overrideErr != nil {
		return nil, s.overrideErr
	}
	return s.override, nil
}

func (s *stubServices) FindByEditToken(context.Context, string) (*domain.Submission, error) {
	return nil, domain.ErrNotFound
}

func (s *stubServices) List(context.Context, application.SubmissionFilter, application.Paging) ([]domain.Submission, error) {
	return s.submissions, nil
}

func (s *stubServices) Detail(_ context.Context, id string) (*domain.Submission, error) {
	for i := range s.submissions {
		if s.submissions[i].ID == id {
			return &s.submissions[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func newTestRouter(stub *stubServices) chi.Router {
	handler := NewHandler(Config{
		Logger:    log.New(io.Discard, "", 0),
		Mutations: stub,
		Queries:   stub,
	})
	router := chi.NewRouter()
	handler.Register(router)
	return router
}

func sampleSubmission() domain.Submission {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(domain.EditTokenTTL)
	return domain.Submission{
		ID: "66c0ffee66c0ffee66c0ffee",
		Fields: domain.FieldValues{
			domain.FieldClientName: "山田 花子",
			domain.FieldEmail:      "hanako@example.com",
		},
		EditToken:       "secret-token",
		EditTokenExpiry: &expiry,
		History: []domain.HistoryEntry{
			{Label: domain.HistoryOriginal, EditedBy: domain.ActorClient, Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAdminSubmissionList(t *testing.T) {
	t.Parallel()

	stub := &stubServices{submissions: []domain.Submission{sampleSubmission()}}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions?keyword=山田&limit=20", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res adminSubmissionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Items, 1)
	require.Equal(t, "66c0ffee66c0ffee66c0ffee", res.Items[0].ID)

	// トークンは有無と期限だけを見せ、値そのものは出さない。
	require.True(t, res.Items[0].HasEditToken)
	require.NotEmpty(t, res.Items[0].EditTokenExpiry)
	require.NotContains(t, rec.Body.String(), "secret-token")
}

func TestAdminSubmissionDetail(t *testing.T) {
	t.Parallel()

	stub := &stubServices{submissions: []domain.Submission{sampleSubmission()}}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/66c0ffee66c0ffee66c0ffee", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/ffffffffffffffffffffffff", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSubmissionOverride(t *testing.T) {
	t.Parallel()

	updated := sampleSubmission()
	stub := &stubServices{override: &application.OverrideResult{Submission: &updated}}
	router := newTestRouter(stub)

	body, _ := json.Marshal(adminOverrideRequest{
		Fields: map[string]any{domain.FieldBudgetRange: "500k_1m"},
		Note:   "電話で確認した予算を反映",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/submissions/66c0ffee66c0ffee66c0ffee", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "66c0ffee66c0ffee66c0ffee", stub.lastCmd.TargetID)
	require.Equal(t, "電話で確認した予算を反映", stub.lastCmd.Note)
	require.Equal(t, "500k_1m", stub.lastCmd.Payload[domain.FieldBudgetRange])
}

func TestAdminSubmissionOverride_InsertedReturns201(t *testing.T) {
	t.Parallel()

	inserted := sampleSubmission()
	stub := &stubServices{override: &application.OverrideResult{Submission: &inserted, Inserted: true}}
	router := newTestRouter(stub)

	body, _ := json.Marshal(adminOverrideRequest{Fields: map[string]any{domain.FieldClientName: "別経路で受けた相談"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/submissions/66c0ffee66c0ffee66c0ffee", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminSubmissionOverride_BadRequest(t *testing.T) {
	t.Parallel()

	stub := &stubServices{overrideErr: domain.ErrValidation}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/submissions/66c0ffee66c0ffee66c0ffee", bytes.NewReader([]byte(`{not json`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
