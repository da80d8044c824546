package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/komorebi-works/intake-services/api/internal/config"
	"github.com/komorebi-works/intake-services/api/internal/continuation"
	mongodoc "github.com/komorebi-works/intake-services/api/internal/infrastructure/mongo"
	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
	adminhttp "github.com/komorebi-works/intake-services/api/internal/interfaces/http/admin"
	commonhttp "github.com/komorebi-works/intake-services/api/internal/interfaces/http/common"
	publichttp "github.com/komorebi-works/intake-services/api/internal/interfaces/http/public"
	"github.com/komorebi-works/intake-services/api/internal/ratelimit"
)

// Server は HTTP サーバーのライフサイクルを管理し、Public/Admin の各ハンドラへ
// 依存注入するコンポジションルート。ドメインロジックは持たない。
type Server struct {
	logger           *log.Logger
	client           *mongo.Client
	database         *mongo.Database
	pings            *mongo.Collection
	failedDeliveries *mongo.Collection
	submissionRepo   *mongodoc.SubmissionRepository
	quotaRepo        *mongodoc.QuotaRepository
	mutationService  application.MutationService
	queryService     application.QueryService
	limiter          *ratelimit.Limiter
	signer           *continuation.Signer
	submitPolicy     ratelimit.Policy
	deliverPolicy    ratelimit.Policy
	location         *time.Location
	jwtConfigs       []config.JWTConfig
	jwtAudience      string
	adminSubjects    map[string]struct{}
	httpClient       *http.Client
	gatewayEndpoint  string
	adminDestination string
	adminBaseURL     string
	editFormBaseURL  string
	addr             string
	allowedOrigins   []string
}

type authenticatedUser = commonhttp.AuthenticatedUser

// New は Config と Mongo クライアントを受け取り、アプリケーションサービスと
// ハンドラを組み立てた Server を返す。依存解決の起点となるファクトリ。
func New(cfg config.Config, client *mongo.Client) (*Server, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
		cfg.ServerLog.Printf("タイムゾーン %s の読み込みに失敗: %v, JST を使用します", cfg.Timezone, err)
	}

	signer, err := continuation.NewSigner(cfg.ContinuationSecret, cfg.ContinuationTTL)
	if err != nil {
		return nil, fmt.Errorf("継続トークン署名器の初期化に失敗: %w", err)
	}

	adminSubjects := make(map[string]struct{}, len(cfg.AdminSubjects))
	for _, subject := range cfg.AdminSubjects {
		adminSubjects[subject] = struct{}{}
	}

	srv := &Server{
		logger:           cfg.ServerLog,
		client:           client,
		database:         client.Database(cfg.MongoDatabase),
		location:         loc,
		signer:           signer,
		jwtConfigs:       append([]config.JWTConfig(nil), cfg.JWTConfigs...),
		jwtAudience:      cfg.JWTAudience,
		adminSubjects:    adminSubjects,
		httpClient:       &http.Client{Timeout: cfg.GatewayTimeout},
		gatewayEndpoint:  strings.TrimRight(strings.TrimSpace(cfg.GatewayEndpoint), "/"),
		adminDestination: cfg.AdminDestination,
		adminBaseURL:     cfg.AdminDashboardBaseURL,
		editFormBaseURL:  cfg.EditFormBaseURL,
		addr:             cfg.Addr,
		allowedOrigins:   append([]string(nil), cfg.AllowedOrigins...),
	}
	srv.pings = srv.database.Collection(cfg.PingCollection)
	srv.failedDeliveries = srv.database.Collection(cfg.FailedDeliveryCollection)

	srv.submissionRepo = mongodoc.NewSubmissionRepository(srv.database, cfg.SubmissionCollection)
	srv.quotaRepo = mongodoc.NewQuotaRepository(srv.database, cfg.QuotaCollection, cfg.ServerLog)
	srv.mutationService = application.NewMutationService(srv.submissionRepo)
	srv.queryService = application.NewQueryService(srv.submissionRepo)
	srv.limiter = ratelimit.New(srv.quotaRepo, ratelimit.NewMemoryStore(), cfg.ServerLog)

	srv.submitPolicy = ratelimit.Policy{Endpoint: "submission_create", MaxRequests: cfg.SubmitMaxRequests, Window: cfg.SubmitWindow}
	srv.deliverPolicy = ratelimit.Policy{Endpoint: "delivery", MaxRequests: cfg.DeliverMaxRequests, Window: cfg.DeliverWindow}

	return srv, nil
}

// Run はHTTPサーバーを起動し、Public/Adminのルーティングやミドルウェアを組み立てる。
func (s *Server) Run() error {
	if err := s.ensureSamplePing(context.Background()); err != nil {
		s.logger.Printf("サンプル ping ドキュメントの用意に失敗しました: %v", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(withCORS(s.allowedOrigins))

	router.Get("/healthz", s.healthHandler())
	router.Get("/ping", s.pingHandler())

	publicHandler := publichttp.NewHandler(publichttp.Config{
		Logger:           s.logger,
		Mutations:        s.mutationService,
		Queries:          s.queryService,
		Limiter:          s.limiter,
		SubmitPolicy:     s.submitPolicy,
		DeliverPolicy:    s.deliverPolicy,
		Signer:           s.signer,
		AdminAuth:        s.adminFromRequest,
		HTTPClient:       s.httpClient,
		GatewayEndpoint:  s.gatewayEndpoint,
		AdminDestination: s.adminDestination,
		FailedDeliveries: s.failedDeliveries,
		AdminBaseURL:     s.adminBaseURL,
		EditFormBaseURL:  s.editFormBaseURL,
	})
	publicHandler.Register(router)

	adminHandler := adminhttp.NewHandler(adminhttp.Config{
		Logger:    s.logger,
		Mutations: s.mutationService,
		Queries:   s.queryService,
	})
	router.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)
		adminHandler.Register(r)
	})

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP サーバー起動: http://%s", s.addr)
		errChan <- httpServer.ListenAndServe()
	}()

	waitForShutdown(httpServer, errChan, s)
	return nil
}

// withCORS は許可されたオリジン情報をもとに CORS ヘッダーを付与するミドルウェアを返す。
func withCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	allowAll := false
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || (!allowAll && len(allowed) > 0 && !originAllowed(origin, allowed)) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed は指定された Origin が許可リストに含まれるか判定する。
func originAllowed(origin string, allowed map[string]struct{}) bool {
	if len(allowed) == 0 {
		return true
	}
	_, ok := allowed[origin]
	return ok
}

// healthHandler は MongoDB への疎通確認を行い、監視系からのヘルスチェック要求に応える。
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// adminAuthMiddleware は Authorization ヘッダーの JWT を検証し、管理者だけを通す。
// 検証失敗は 401、管理者資格の不足は 403 で区別する。
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.adminFromRequest(r)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				commonhttp.WriteError(s.logger, w, err)
				return
			}
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		ctx := commonhttp.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminFromRequest は Bearer トークンを検証し、管理者プリンシパルを返す。
// Public 側の override 経路もこの関数を共有する。
func (s *Server) adminFromRequest(r *http.Request) (authenticatedUser, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return authenticatedUser{}, fmt.Errorf("Authorization ヘッダーがありません")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return authenticatedUser{}, fmt.Errorf("Bearer トークンを指定してください")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if tokenString == "" {
		return authenticatedUser{}, fmt.Errorf("アクセストークンが空です")
	}

	claims, err := s.parseAuthToken(tokenString)
	if err != nil {
		return authenticatedUser{}, err
	}

	user := authenticatedUser{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: claims.Role,
	}

	// 管理者判定は role クレームまたは許可リストのいずれか。
	if claims.Role == "admin" {
		user.Admin = true
	} else if _, ok := s.adminSubjects[claims.Subject]; ok {
		user.Admin = true
	}
	if !user.Admin {
		return authenticatedUser{}, domain.ErrUnauthorized
	}

	return user, nil
}

// parseAuthToken は複数の JWT 設定を順番に試し、署名検証と Issuer/Audience の整合性を確認する。
func (s *Server) parseAuthToken(tokenString string) (*authClaims, error) {
	if len(s.jwtConfigs) == 0 {
		return nil, fmt.Errorf("認証設定が構成されていません")
	}

	for _, cfg := range s.jwtConfigs {
		claims := &authClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return cfg.Secret, nil
		}, jwt.WithLeeway(30*time.Second))

		if err != nil || !token.Valid {
			continue
		}

		if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
			continue
		}

		now := time.Now()
		if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
			continue
		}
		if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
			continue
		}
		if claims.Subject == "" {
			continue
		}
		if s.jwtAudience != "" && !contains(claims.Audience, s.jwtAudience) {
			continue
		}

		return claims, nil
	}

	return nil, fmt.Errorf("アクセストークンが無効です")
}

// contains は Audience 等の検証で利用する単純な包含チェック。
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

type authClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type pingDocument struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Message   string             `json:"message" bson:"message"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// pingHandler は `pings` コレクションから最新レコードを返す検証用エンドポイント。
func (s *Server) pingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
		var doc pingDocument
		err := s.pings.FindOne(ctx, bson.D{}, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{
				"status":  "not_found",
				"message": "ping コレクションにドキュメントが存在しません",
			})
			return
		}
		if err != nil {
			s.logger.Printf("ping コレクションのドキュメント取得に失敗: %v", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "ping コレクションのドキュメント取得に失敗しました",
			})
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]any{
			"message":   doc.Message,
			"createdAt": doc.CreatedAt.In(s.location),
			"id":        doc.ID.Hex(),
		})
	}
}

// ensureSamplePing は pings コレクションに最低1件のドキュメントがある状態を保証する。
func (s *Server) ensureSamplePing(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := s.pings.CountDocuments(ctx, bson.D{})
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err = s.pings.InsertOne(ctx, bson.M{
		"message":   "pong",
		"createdAt": time.Now().In(s.location),
	})
	return err
}

// writeJSON は JSON レスポンスの共通書き込み処理。
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("JSON エンコードに失敗: %v", err)
	}
}

// shutdown は MongoDB クライアントをタイムアウト付きで切断する。
func (s *Server) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(shutdownCtx); err != nil {
		s.logger.Printf("MongoDB 切断時にエラー: %v", err)
	}
}

// waitForShutdown は ListenAndServe の終了と OS シグナルを監視し、graceful shutdown を実現する。
func waitForShutdown(httpServer *http.Server, errChan <-chan error, srv *Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Fatalf("サーバーが異常終了: %v", err)
		}
	case sig := <-sigChan:
		srv.logger.Printf("シグナル %s を受信。サーバー停止処理を開始します。", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			srv.logger.Printf("サーバー停止時にエラー: %v", err)
		}
	}

	srv.shutdown(context.Background())
}
