package public

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/komorebi-works/intake-services/api/internal/continuation"
	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
	"github.com/komorebi-works/intake-services/api/internal/ratelimit"
)

// AdminAuthenticator は override 要求の管理者資格を検証する。
// 資格がない場合は domain.ErrUnauthorized を返す契約。
type AdminAuthenticator func(r *http.Request) (common.AuthenticatedUser, error)

// Handler wires public HTTP endpoints to application services.
type Handler struct {
	logger           *log.Logger
	mutations        application.MutationService
	queries          application.QueryService
	limiter          *ratelimit.Limiter
	submitPolicy     ratelimit.Policy
	deliverPolicy    ratelimit.Policy
	signer           *continuation.Signer
	adminAuth        AdminAuthenticator
	httpClient       *http.Client
	gatewayEndpoint  string
	adminDestination string
	failedDeliveries *mongo.Collection
	adminBaseURL     string
	editFormBaseURL  string
}

// Config defines dependencies required by Handler.
type Config struct {
	Logger           *log.Logger
	Mutations        application.MutationService
	Queries          application.QueryService
	Limiter          *ratelimit.Limiter
	SubmitPolicy     ratelimit.Policy
	DeliverPolicy    ratelimit.Policy
	Signer           *continuation.Signer
	AdminAuth        AdminAuthenticator
	HTTPClient       *http.Client
	GatewayEndpoint  string
	AdminDestination string
	FailedDeliveries *mongo.Collection
	AdminBaseURL     string
	EditFormBaseURL  string
}

// NewHandler constructs a public HTTP handler set.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		logger:           cfg.Logger,
		mutations:        cfg.Mutations,
		queries:          cfg.Queries,
		limiter:          cfg.Limiter,
		submitPolicy:     cfg.SubmitPolicy,
		deliverPolicy:    cfg.DeliverPolicy,
		signer:           cfg.Signer,
		adminAuth:        cfg.AdminAuth,
		httpClient:       cfg.HTTPClient,
		gatewayEndpoint:  cfg.GatewayEndpoint,
		adminDestination: cfg.AdminDestination,
		failedDeliveries: cfg.FailedDeliveries,
		adminBaseURL:     cfg.AdminBaseURL,
		editFormBaseURL:  cfg.EditFormBaseURL,
	}
}

// Register mounts all public routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/submissions", h.submissionMutateHandler())
	r.Get("/submissions/by-token", h.submissionByTokenHandler())
	r.Post("/deliver", h.deliverHandler())
}

// callerID はレート制限に使う呼び出し元の識別子。
// middleware.RealIP が RemoteAddr を書き換えている前提でそこから取る。
func callerID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
