package public

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/komorebi-works/intake-services/api/internal/continuation"
	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
	"github.com/komorebi-works/intake-services/api/internal/ratelimit"
)

// memoryRepository は永続化ポートのメモリ実装。ハンドラ経由の
// ユースケースを実ストア抜きで通すために使う。
type memoryRepository struct {
	byID   map[string]*domain.Submission
	nextID int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{byID: make(map[string]*domain.Submission)}
}

func (m *memoryRepository) Insert(_ context.Context, submission *domain.Submission) error {
	if submission.ID == "" {
		m.nextID++
		submission.ID = fmt.Sprintf("id-%04d", m.nextID)
	}
	stored := *submission
	m.byID[submission.ID] = &stored
	return nil
}

func (m *memoryRepository) FindByID(_ context.Context, id string) (*domain.Submission, error) {
	stored, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	found := *stored
	return &found, nil
}

func (m *memoryRepository) FindByEditToken(_ context.Context, token string) (*domain.Submission, error) {
	for _, stored := range m.byID {
		if stored.EditToken != "" && stored.EditToken == token {
			found := *stored
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryRepository) ConsumeEditToken(_ context.Context, token string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error) {
	for _, stored := range m.byID {
		if stored.EditToken != token || !stored.EditTokenValid(now) {
			continue
		}
		stored.Fields = stored.Fields.Merge(fields)
		stored.History = append(stored.History, entry)
		stored.EditToken = ""
		stored.EditTokenExpiry = nil
		stored.UpdatedAt = now
		found := *stored
		return &found, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memoryRepository) MergeByID(_ context.Context, id string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error) {
	stored, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	stored.Fields = stored.Fields.Merge(fields)
	stored.History = append(stored.History, entry)
	stored.UpdatedAt = now
	found := *stored
	return &found, nil
}

func (m *memoryRepository) Find(_ context.Context, _ application.SubmissionFilter, _ application.Paging) ([]domain.Submission, error) {
	results := make([]domain.Submission, 0, len(m.byID))
	for _, stored := range m.byID {
		results = append(results, *stored)
	}
	return results, nil
}

type testEnv struct {
	router  chi.Router
	repo    *memoryRepository
	signer  *continuation.Signer
	gateway *httptest.Server
}

func newTestEnv(t *testing.T, submitMax int) *testEnv {
	t.Helper()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gateway.Close)

	repo := newMemoryRepository()
	logger := log.New(io.Discard, "", 0)

	signer, err := continuation.NewSigner([]byte("test-secret"), 5*time.Minute)
	require.NoError(t, err)

	adminAuth := func(r *http.Request) (common.AuthenticatedUser, error) {
		if r.Header.Get("Authorization") == "Bearer admin-token" {
			return common.AuthenticatedUser{ID: "admin-1", Name: "管理者", Role: "admin", Admin: true}, nil
		}
		return common.AuthenticatedUser{}, domain.ErrUnauthorized
	}

	handler := NewHandler(Config{
		Logger:          logger,
		Mutations:       application.NewMutationService(repo),
		Queries:         application.NewQueryService(repo),
		Limiter:         ratelimit.New(ratelimit.NewMemoryStore(), nil, logger),
		SubmitPolicy:    ratelimit.Policy{Endpoint: "submission_create", MaxRequests: submitMax, Window: 10 * time.Minute},
		DeliverPolicy:   ratelimit.Policy{Endpoint: "delivery", MaxRequests: 20, Window: 10 * time.Minute},
		Signer:          signer,
		AdminAuth:       adminAuth,
		HTTPClient:      &http.Client{Timeout: time.Second},
		GatewayEndpoint: gateway.URL,
		EditFormBaseURL: "https://example.com/edit",
	})

	router := chi.NewRouter()
	handler.Register(router)

	return &testEnv{router: router, repo: repo, signer: signer, gateway: gateway}
}

func (e *testEnv) do(method, target string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		encoded, _ := json.Marshal(payload)
		body = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func createPayload() map[string]any {
	return map[string]any{
		"clientName":  "山田 花子",
		"email":       "hanako@example.com",
		"projectType": "lp",
		"message":     "LP 制作の相談です。",
	}
}

func TestSubmissionCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5)
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var res createSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "ok", res.Status)
	require.NotEmpty(t, res.Record.ID)
	require.Equal(t, "山田 花子", res.Record.Fields["clientName"])

	// 履歴の先頭は original。
	require.Len(t, res.Record.History, 1)
	require.Equal(t, "original", res.Record.History[0].Label)

	// 継続トークンが同梱され、リンクペイロードはレコードの参照パス。
	require.NotNil(t, res.Continuation)
	require.Len(t, res.Continuation.Token, 64)
	require.Equal(t, "/submissions/"+res.Record.ID, res.Continuation.LinkPayload)

	// 編集トークンは応答に現れない。
	require.NotContains(t, rec.Body.String(), env.repo.byID[res.Record.ID].EditToken)
}

func TestSubmissionCreate_ValidationError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5)
	rec := env.do(http.MethodPost, "/submissions", map[string]any{
		"email": "hanako@example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, env.repo.byID)
}

func TestSubmissionCreate_RateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5)
	for i := 0; i < 5; i++ {
		rec := env.do(http.MethodPost, "/submissions", createPayload())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// 同一ウィンドウ内の 6 回目は 429。
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Len(t, env.repo.byID, 5)
}

func TestSubmissionMutate_TokenEdit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	editToken := env.repo.byID[created.Record.ID].EditToken

	rec = env.do(http.MethodPost, "/submissions", map[string]any{
		"editToken": editToken,
		"brandName": "こもれびブランド",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var edited mutateSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	require.Equal(t, created.Record.ID, edited.Record.ID)
	require.Equal(t, "こもれびブランド", edited.Record.Fields["brandName"])
	require.Len(t, edited.Record.History, 2)
	require.Equal(t, "edited", edited.Record.History[1].Label)

	// 単回使用。2 回目は 404。
	rec = env.do(http.MethodPost, "/submissions", map[string]any{
		"editToken": editToken,
		"brandName": "二度目",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmissionMutate_ControlKeysAreExclusive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/submissions", map[string]any{
		"editToken":  "deadbeef",
		"overrideId": "66c0ffee66c0ffee66c0ffee",
		"clientName": "山田 花子",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmissionMutate_AdminOverride(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)

	// 資格なしは 403。
	rec := env.do(http.MethodPost, "/submissions", map[string]any{
		"overrideId": "66c0ffee66c0ffee66c0ffee",
		"clientName": "別経路で受けた相談",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// 対象不在の上書きは挿入分岐を通って 201。
	body, _ := json.Marshal(map[string]any{
		"overrideId": "66c0ffee66c0ffee66c0ffee",
		"note":       "メール経由の相談を取り込み",
		"clientName": "別経路で受けた相談",
		"email":      "taro@example.com",
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-token")
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var inserted mutateSubmissionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &inserted))
	require.Equal(t, "66c0ffee66c0ffee66c0ffee", inserted.Record.ID)
	require.Equal(t, "original", inserted.Record.History[0].Label)
	require.Equal(t, "メール経由の相談を取り込み", inserted.Record.History[0].Note)

	// 既存対象への上書きは 200 で履歴が伸びる。
	body, _ = json.Marshal(map[string]any{
		"overrideId":  "66c0ffee66c0ffee66c0ffee",
		"budgetRange": "500k_1m",
	})
	req = httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-token")
	recorder = httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var merged mutateSubmissionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &merged))
	require.Equal(t, "500k_1m", merged.Record.Fields["budgetRange"])
	require.Len(t, merged.Record.History, 2)
}

func TestSubmissionByToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	editToken := env.repo.byID[created.Record.ID].EditToken

	rec = env.do(http.MethodGet, "/submissions/by-token?token="+editToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var found mutateSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Equal(t, created.Record.ID, found.Record.ID)

	// 未発見は 404。
	rec = env.do(http.MethodGet, "/submissions/by-token?token=deadbeef", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// 失効済みは 410。
	expired := time.Now().UTC().Add(-time.Minute)
	env.repo.byID[created.Record.ID].EditTokenExpiry = &expired
	rec = env.do(http.MethodGet, "/submissions/by-token?token="+editToken, nil)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Record       json.RawMessage       `json:"record"`
		Continuation *continuationResponse `json:"continuation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Continuation)

	rec = env.do(http.MethodPost, "/deliver", map[string]any{
		"record":      created.Record,
		"timestamp":   created.Continuation.Timestamp,
		"token":       created.Continuation.Token,
		"linkPayload": created.Continuation.LinkPayload,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "accepted")
}

func TestDeliver_RejectsTamperedRecord(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/submissions", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Record       map[string]any        `json:"record"`
		Continuation *continuationResponse `json:"continuation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	fields := created.Record["fields"].(map[string]any)
	fields["email"] = "attacker@example.com"

	rec = env.do(http.MethodPost, "/deliver", map[string]any{
		"record":      created.Record,
		"timestamp":   created.Continuation.Timestamp,
		"token":       created.Continuation.Token,
		"linkPayload": created.Continuation.LinkPayload,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliver_ExpiredToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	record := []byte(`{"id":"abc123"}`)
	issuedAt := time.Now().UTC().Add(-10 * time.Minute)
	token, err := env.signer.Issue(record, "/submissions/abc123", issuedAt)
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/deliver", map[string]any{
		"record":      json.RawMessage(record),
		"timestamp":   issuedAt.UnixMilli(),
		"token":       token,
		"linkPayload": "/submissions/abc123",
	})
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestDeliver_MissingFields(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	rec := env.do(http.MethodPost, "/deliver", map[string]any{
		"record": map[string]any{"id": "abc123"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
