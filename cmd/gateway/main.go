package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/audit"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/detector"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/dispatch"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/embedding"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/fusion"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/hardening"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/httpx"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/metrics"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/orchestrator"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/ratelimit"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/semcache"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/store"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/stream"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	DB                  gatewayDB
	Cache               store.Cache
	Redis               *redis.Client
	Metrics             *metrics.Registry
	Audit               auditStore
	Orchestrator        *orchestrator.Orchestrator
	Dispatcher          *dispatch.Dispatcher
	SemCache            *semcache.Cache
	Events              *stream.Hub
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	RateLimitWindow     time.Duration
	MaxRequestBodyBytes int64
	RetentionEnabled    bool
	RetentionDays       int
	RetentionInterval   time.Duration
	VisionEnabled       bool
	AcousticEnabled     bool
	ReasoningEnabled    bool
	EmbeddingEnabled    bool
}

type auditStore interface {
	RecentEvents(ctx context.Context, tenant string, limit int) ([]models.AuditEvent, error)
	ListDecisions(ctx context.Context, tenant string, limit int) ([]models.DecisionSummary, error)
	GetDecision(ctx context.Context, decisionID string) (models.DecisionRecord, error)
}

type gatewayDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type gatewayDBCloser interface {
	gatewayDB
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (gatewayDBCloser, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (gatewayDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		if s.RetentionEnabled {
			go s.retentionLoop(context.Background())
		}
		go s.metricsLoop(context.Background())
	}
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 16<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 16 << 20
	}
	auditSalt := env("AUDIT_HASH_SALT", "")
	softLockURL := env("SOFT_LOCK_URL", "")
	alertURL := env("ALERT_WEBHOOK_URL", "")

	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gateway",
		Environment:           env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "AUDIT_HASH_SALT", Value: auditSalt},
		},
		OutboundWebhooks: []hardening.EnvRequirement{
			{Name: "SOFT_LOCK_URL", Value: softLockURL},
			{Name: "ALERT_WEBHOOK_URL", Value: alertURL},
		},
	}); err != nil {
		return err
	}

	collaboratorClient := telemetry.InstrumentClient(&http.Client{
		Timeout: time.Millisecond * time.Duration(envInt("COLLABORATOR_TIMEOUT_MS", 10000)),
	})
	liveness := detector.NewHTTPLiveness(env("VISION_ENDPOINT", ""), env("VISION_API_KEY", ""), collaboratorClient)
	acoustic := detector.NewHTTPAcoustic(env("ACOUSTIC_ENDPOINT", ""), env("ACOUSTIC_API_KEY", ""), collaboratorClient)
	reasoner := detector.NewChatReasoner(
		env("REASONING_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		env("OPENAI_API_KEY", ""),
		env("REASONING_MODEL", ""),
		collaboratorClient,
	)
	embedder := embedding.NewOpenAIClient(
		env("EMBEDDING_ENDPOINT", "https://api.openai.com/v1/embeddings"),
		env("OPENAI_API_KEY", ""),
		env("EMBEDDING_MODEL", ""),
		collaboratorClient,
	)
	semCache := semcache.New(
		redisClient,
		embedder,
		envFloat("SEMCACHE_SIMILARITY_THRESHOLD", semcache.DefaultThreshold),
		time.Second*time.Duration(envInt("SEMCACHE_TTL_SEC", int(semcache.DefaultTTL/time.Second))),
	)

	auditWriter := &audit.Writer{DB: pool, HashSalt: []byte(auditSalt)}

	var publisher *dispatch.Publisher
	if brokers := splitCSV(env("KAFKA_BROKERS", "")); len(brokers) > 0 {
		publisher, err = dispatch.NewPublisher(dispatch.PublisherConfig{
			Brokers: brokers,
			Topic:   env("KAFKA_TOPIC", dispatch.DefaultTopic),
		})
		if err != nil {
			log.Printf("kafka publisher disabled: %v", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	hub := stream.NewHub()
	dispatcher := dispatch.New(dispatch.Config{
		SoftLockURL: softLockURL,
		AlertURL:    alertURL,
		Timeout:     time.Millisecond * time.Duration(envInt("DISPATCH_TIMEOUT_MS", 10000)),
	}, collaboratorClient, auditWriter, hub, publisher)

	orch := orchestrator.New(liveness, acoustic, reasoner, semCache, orchestrator.Config{
		Timeout: time.Millisecond * time.Duration(envInt("ANALYZE_TIMEOUT_MS", 5000)),
		Fusion: fusion.Config{
			DegradedNoAllow: env("DEGRADED_NO_ALLOW", "false") == "true",
		},
	})

	s := &Server{
		DB:                  pool,
		Cache:               cache,
		Redis:               redisClient,
		Metrics:             metrics.NewRegistry(),
		Audit:               auditWriter,
		Orchestrator:        orch,
		Dispatcher:          dispatcher,
		SemCache:            semCache,
		Events:              hub,
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitWindow:     rateLimitWindow,
		MaxRequestBodyBytes: maxRequestBodyBytes,
		RetentionEnabled:    env("RETENTION_ENABLED", "false") == "true",
		RetentionDays:       envInt("RETENTION_DAYS", 90),
		RetentionInterval:   time.Second * time.Duration(envInt("RETENTION_INTERVAL_SEC", 3600)),
		VisionEnabled:       liveness.Enabled(),
		AcousticEnabled:     acoustic.Enabled(),
		ReasoningEnabled:    reasoner.Enabled(),
		EmbeddingEnabled:    embedder.Enabled(),
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	r := s.routes()

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 30),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Post("/v1/analyze", s.handleAnalyze)
	r.Get("/v1/decisions", s.listDecisions)
	r.Get("/v1/decisions/{decision_id}", s.getDecision)
	r.Get("/v1/audit/events", s.listAuditEvents)
	r.Get("/v1/cache/stats", s.cacheStats)
	r.Get("/v1/stream", s.streamEvents)
	return r
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	if s.RateLimitEnabled && s.RateLimiter != nil {
		decision := s.RateLimiter.Allow("analyze:"+tenant, s.RateLimitPerMinute)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(decision.ResetAt).Seconds())+1))
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req models.AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TransactionAmount < 0 {
		httpx.Error(w, http.StatusBadRequest, "transaction_amount must be non-negative")
		return
	}
	video, err := base64.StdEncoding.DecodeString(req.VideoB64)
	if err != nil || len(video) == 0 {
		httpx.Error(w, http.StatusBadRequest, "video_b64 must be non-empty base64")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioB64)
	if err != nil || len(audio) == 0 {
		httpx.Error(w, http.StatusBadRequest, "audio_b64 must be non-empty base64")
		return
	}

	// Raw media never reaches the logs; only digests and sizes do.
	log.Printf("analyze tenant=%s video_sha256=%s audio_sha256=%s amount=%.2f",
		tenant, mediaDigest(video), mediaDigest(audio), req.TransactionAmount)

	idemKey := idempotencyCacheKey(tenant, r.Header.Get("Idempotency-Key"))
	if idemKey != "" && s.Cache != nil {
		if cached, err := s.Cache.Get(r.Context(), idemKey); err == nil && cached != "" {
			var resp models.AnalyzeResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				w.Header().Set("Idempotency-Replayed", "true")
				httpx.WriteJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	var prior []models.CaptureSample
	if req.FirstCapture != nil {
		prior = priorCaptures(req.FirstCapture)
	}

	rec := s.Orchestrator.Evaluate(r.Context(), orchestrator.EvalRequest{
		Tenant:        tenant,
		Video:         video,
		Audio:         audio,
		Amount:        req.TransactionAmount,
		PriorCaptures: prior,
	})

	s.observeDecision(rec)
	s.Dispatcher.Dispatch(rec, req.Metadata)

	resp := models.AnalyzeResponse{
		Decision:          fusion.Label(rec.Verdict),
		Reasoning:         rec.Reasoning,
		VisionScore:       rec.VisionScore,
		AcousticScore:     rec.AcousticScore,
		TransactionAmount: rec.TransactionAmount,
		Mismatches:        rec.Mismatches,
	}
	if idemKey != "" && s.Cache != nil {
		if body, err := json.Marshal(resp); err == nil {
			_ = s.Cache.Set(r.Context(), idemKey, string(body), time.Hour)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func idempotencyCacheKey(tenant, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return "analyze:idem:" + tenant + ":" + key
}

func (s *Server) observeDecision(rec models.DecisionRecord) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.IncVerdict(rec.Verdict)
	s.Metrics.IncReason(reasonCode(rec))
	if rec.Degraded {
		s.Metrics.IncDegraded()
	}
	if rec.CacheHit {
		s.Metrics.IncCacheHit()
	} else {
		s.Metrics.IncCacheMiss()
	}
	for _, sig := range rec.Signals {
		s.Metrics.ObserveCollaborator(sig.Source, sig.Latency, sig.Available)
	}
}

// reasonCode folds a decision into a low-cardinality counter label.
func reasonCode(rec models.DecisionRecord) string {
	if rec.Verdict != fusion.VerdictBlock {
		return "allowed"
	}
	switch {
	case rec.VisionScore >= 1:
		return "spoof_detected"
	case rec.AcousticScore > fusion.AcousticBlockThreshold:
		return "voice_synthesis_risk"
	case len(rec.Mismatches) > 0:
		return "capture_mismatch"
	case rec.TransactionAmount > fusion.TightenAmount:
		return "high_value_risk"
	default:
		return "policy_block"
	}
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))
	limit := queryInt(r, "limit", 100)
	decisions, err := s.Audit.ListDecisions(r.Context(), tenant, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "decision lookup failed")
		return
	}
	if decisions == nil {
		decisions = []models.DecisionSummary{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "decision_id"))
	if id == "" {
		httpx.Error(w, http.StatusBadRequest, "decision_id required")
		return
	}
	rec, err := s.Audit.GetDecision(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "decision not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "decision lookup failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))
	limit := queryInt(r, "limit", 100)
	events, err := s.Audit.RecentEvents(r.Context(), tenant, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.SemCache == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.SemCache.Snapshot(r.Context()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	collaborators := map[string]bool{
		models.SourceVision:    s.VisionEnabled,
		models.SourceAcoustic:  s.AcousticEnabled,
		models.SourceReasoning: s.ReasoningEnabled,
		"embedding":            s.EmbeddingEnabled,
	}
	cacheMode := "disabled"
	if s.SemCache != nil {
		cacheMode = s.SemCache.Snapshot(r.Context()).Mode
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	components := map[string]string{
		"postgres": "down",
		"redis":    "down",
	}
	if s.DB != nil {
		var one int
		if err := s.DB.QueryRow(ctx, `SELECT 1`).Scan(&one); err == nil {
			components["postgres"] = "up"
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err == nil {
			components["redis"] = "up"
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"service":       "gateway",
		"components":    components,
		"collaborators": collaborators,
		"cache_mode":    cacheMode,
	})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics(ctx)
		}
	}
}

func (s *Server) updateOperationalMetrics(ctx context.Context) {
	if s.Metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if s.DB != nil {
		var decisions24h int
		_ = s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE created_at > now() - interval '24 hours'`).Scan(&decisions24h)
		s.Metrics.SetGauge("decisions_24h", float64(decisions24h))
		var blocks24h int
		_ = s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM decisions WHERE verdict=$1 AND created_at > now() - interval '24 hours'`, fusion.VerdictBlock).Scan(&blocks24h)
		s.Metrics.SetGauge("blocks_24h", float64(blocks24h))
		var alerts24h int
		_ = s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events WHERE event_type=$1 AND created_at > now() - interval '24 hours'`, models.EventSecurityAlert).Scan(&alerts24h)
		s.Metrics.SetGauge("security_alerts_24h", float64(alerts24h))
	}
	if s.SemCache != nil {
		s.Metrics.SetGauge("semcache_entries", float64(s.SemCache.Snapshot(ctx).Entries))
	}
}

func (s *Server) retentionLoop(ctx context.Context) {
	interval := s.RetentionInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.applyRetention(ctx)
			if err != nil {
				log.Printf("retention run failed: %v", err)
				continue
			}
			log.Printf("retention run completed: %+v", report)
		}
	}
}

// applyRetention prunes aged decisions. Audit events are append-only and
// never deleted here.
func (s *Server) applyRetention(ctx context.Context) (map[string]any, error) {
	days := s.RetentionDays
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	cmd, err := s.DB.Exec(ctx, `DELETE FROM decisions WHERE created_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cutoff":           cutoff.Format(time.RFC3339),
		"days":             days,
		"decisions":        cmd.RowsAffected(),
		"immutable_tables": []string{"audit_events"},
	}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func tenantFromRequest(r *http.Request) string {
	tenant := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenant == "" {
		return "default"
	}
	return strings.ToLower(tenant)
}

func mediaDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum[:])
}

func priorCaptures(fc *models.FirstCapture) []models.CaptureSample {
	var out []models.CaptureSample
	if v, err := base64.StdEncoding.DecodeString(fc.Video); err == nil && len(v) > 0 {
		out = append(out, models.CaptureSample{PayloadSize: len(v), Modality: models.ModalityVideo})
	}
	if a, err := base64.StdEncoding.DecodeString(fc.Audio); err == nil && len(a) > 0 {
		out = append(out, models.CaptureSample{PayloadSize: len(a), Modality: models.ModalityAudio})
	}
	return out
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
