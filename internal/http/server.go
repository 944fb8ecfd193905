package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"finance/internal/attachments"
	"finance/internal/auth"
	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/log"
	"finance/internal/middleware/ratelimit"
	"finance/internal/middleware/security"
	"finance/internal/middleware/trace"
)

// Ledger is the mutation and read surface behind the budget and
// transaction routes.
type Ledger interface {
	Record(ctx context.Context, req core.RecordRequest) (ledger.Result, error)
	Revise(ctx context.Context, req core.ReviseRequest) (ledger.Result, error)
	Retract(ctx context.Context, req core.RetractRequest) (ledger.Result, error)

	OpenBudget(ctx context.Context, nb core.NewBudget) (core.Budget, error)
	AmendBudget(ctx context.Context, p core.BudgetPatch) (core.Budget, error)
	CloseBudget(ctx context.Context, req core.CloseBudgetRequest) (ledger.CloseResult, error)
	Audit(ctx context.Context, ownerID, budgetID int64) (core.AuditReport, error)

	GetBudget(ctx context.Context, ownerID, budgetID int64) (core.Budget, error)
	ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error)
	GetTransaction(ctx context.Context, ownerID, transactionID int64) (core.Transaction, error)
	ListTransactions(ctx context.Context, ownerID int64, f ledger.TransactionFilter) ([]core.Transaction, error)

	Ping(ctx context.Context) error
}

// Attachments stores files bound to transactions.
type Attachments interface {
	Upload(ctx context.Context, u attachments.Upload) (core.Attachment, error)
	List(ctx context.Context, ownerID, transactionID int64) ([]core.Attachment, error)
	Open(ctx context.Context, ownerID, attachmentID int64) (core.Attachment, io.ReadCloser, error)
	Delete(ctx context.Context, ownerID, attachmentID int64) (core.Attachment, error)
}

// Stats serves the cached per-owner summaries.
type Stats interface {
	BudgetStats(ctx context.Context, ownerID int64) (core.BudgetStats, error)
	TransactionStats(ctx context.Context, ownerID int64) (core.TransactionStats, error)
	FileStats(ctx context.Context, ownerID int64) (core.FileStats, error)
	TemporalStats(ctx context.Context, ownerID int64) (core.TemporalStats, error)
}

// Config carries the server's tunables.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	// MaxUploadBytes bounds the attachment payload; the multipart envelope
	// gets a small allowance on top.
	MaxUploadBytes int64
	ReadyTimeout   time.Duration
}

type Server struct {
	http.Server

	ledger      Ledger
	attachments Attachments
	stats       Stats

	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	maxUploadBytes int64
	readyTimeout   time.Duration

	appMetrics struct {
		recorded  atomic.Int64
		revised   atomic.Int64
		retracted atomic.Int64
		uploads   atomic.Int64
		startedAt time.Time
	}

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Call Shutdown to release the limiter.
func NewServer(cfg Config, l Ledger, att Attachments, st Stats, verifier *auth.Verifier, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = attachments.DefaultMaxBytes
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	s := &Server{
		ledger:         l,
		attachments:    att,
		stats:          st,
		verifier:       verifier,
		detector:       security.NewDetector(),
		limiter:        ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		logger:         logger.WithComponent(log.ComponentHTTP),
		maxUploadBytes: cfg.MaxUploadBytes,
		readyTimeout:   cfg.ReadyTimeout,
	}
	s.appMetrics.startedAt = time.Now()
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.handle(mux, "POST /budgets", s.handleOpenBudget)
	s.handle(mux, "GET /budgets", s.handleListBudgets)
	s.handle(mux, "GET /budgets/{id}", s.handleGetBudget)
	s.handle(mux, "PATCH /budgets/{id}", s.handleAmendBudget)
	s.handle(mux, "DELETE /budgets/{id}", s.handleCloseBudget)
	s.handle(mux, "GET /budgets/{id}/audit", s.handleAudit)

	s.handle(mux, "POST /transactions", s.handleRecord)
	s.handle(mux, "GET /transactions", s.handleListTransactions)
	s.handle(mux, "GET /transactions/{id}", s.handleGetTransaction)
	s.handle(mux, "PATCH /transactions/{id}", s.handleRevise)
	s.handle(mux, "DELETE /transactions/{id}", s.handleRetract)

	s.handle(mux, "POST /transactions/{id}/attachments", s.handleUpload)
	s.handle(mux, "GET /transactions/{id}/attachments", s.handleListAttachments)
	s.handle(mux, "GET /attachments/{id}", s.handleDownload)
	s.handle(mux, "DELETE /attachments/{id}", s.handleDeleteAttachment)

	s.handle(mux, "GET /stats/budgets", s.handleBudgetStats)
	s.handle(mux, "GET /stats/transactions", s.handleTransactionStats)
	s.handle(mux, "GET /stats/files", s.handleFileStats)
	s.handle(mux, "GET /stats/temporal", s.handleTemporalStats)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// handle registers an authenticated route.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.verifier.Middleware(s.onAuthError)(h))
}

func (s *Server) onAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContext(r.Context()).DebugContext(r.Context(), "Rejected unauthenticated request",
		log.FieldPath, r.URL.Path,
		log.FieldError, err)
	UnauthorizedError(authMessage(err)).Write(w)
}

func authMessage(err error) string {
	if errors.Is(err, auth.ErrMissingToken) {
		return auth.ErrMissingToken.Error()
	}
	return auth.ErrInvalidToken.Error()
}

// middleware wraps the mux outermost first: tracing, security headers,
// probe detection, then the limiter on mutating methods.
func (s *Server) middleware(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.MutatingOnly,
		func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			TooManyRequestsError().Write(w)
		})(next)

	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}
		limited.ServeHTTP(w, r)
	})

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	return s.tracer.Middleware(headers.Middleware(probe))
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// owner returns the authenticated principal. Routes are only reachable
// through the auth middleware, so a missing owner is a wiring bug.
func owner(r *http.Request) int64 {
	id, _ := auth.OwnerFromContext(r.Context())
	return id
}
