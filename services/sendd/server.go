package sendd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payconfirm/core/readiness"
	"payconfirm/core/submission"
	"payconfirm/core/workflow"
	"payconfirm/observability"
	"payconfirm/services/sendd/middleware"
)

const (
	scopeRead  = "payments:read"
	scopeWrite = "payments:write"

	limitWorkflow = "workflow"
	limitSubmit   = "submit"
)

// ServerConfig wires the daemon's collaborators into the HTTP API.
type ServerConfig struct {
	Node      NodeClient
	Session   *SessionStore
	Attempts  *AttemptStore
	Readiness readiness.Source
	Manager   *workflow.Manager
	Display   Display
	Auth      middleware.AuthConfig
	Limits    map[string]middleware.RateLimit
	Metrics   *observability.SubmissionMetrics
	Logger    *slog.Logger
}

// Server exposes the confirmation workflow over HTTP.
type Server struct {
	node      NodeClient
	session   *SessionStore
	attempts  *AttemptStore
	readiness readiness.Source
	manager   *workflow.Manager
	display   Display
	metrics   *observability.SubmissionMetrics
	logger    *slog.Logger

	payer         *Payer
	balances      *BalanceCache
	notifications *NotificationHub
	haptics       *Haptics
	feed          *changeFeed

	// beginMu orders workflow replacement against session writes.
	beginMu sync.Mutex

	router http.Handler
}

// NewServer validates cfg and builds the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("sendd: node client required")
	}
	if cfg.Session == nil {
		return nil, errors.New("sendd: session store required")
	}
	if cfg.Manager == nil {
		cfg.Manager = workflow.NewManager(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Submission()
	}
	s := &Server{
		node:      cfg.Node,
		session:   cfg.Session,
		attempts:  cfg.Attempts,
		readiness: cfg.Readiness,
		manager:   cfg.Manager,
		display:   cfg.Display,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		feed:      newChangeFeed(),
	}
	s.payer = NewPayer(cfg.Session, cfg.Node, cfg.Logger)
	s.balances = NewBalanceCache(cfg.Node)
	s.notifications = NewNotificationHub(s.feed.Publish)
	s.haptics = NewHaptics(cfg.Logger, cfg.Metrics)
	s.manager.OnEnd(func(*workflow.Workflow, workflow.EndReason) { s.feed.Publish() })
	s.router = s.buildRouter(cfg.Auth, cfg.Limits)
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "sendd")
}

// Publish notifies stream subscribers that the view may have changed, for
// example after a readiness update.
func (s *Server) Publish() {
	s.feed.Publish()
}

// Balances exposes the balance cache refreshed after each payment.
func (s *Server) Balances() *BalanceCache {
	return s.balances
}

func (s *Server) buildRouter(authCfg middleware.AuthConfig, limits map[string]middleware.RateLimit) http.Handler {
	auth := middleware.NewAuthenticator(authCfg, s.logger)
	limiter := middleware.NewRateLimiter(limits, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.With(middleware.Observe("workflow.begin", s.logger), auth.Middleware(scopeWrite), limiter.Middleware(limitWorkflow)).
			Post("/workflow", s.handleBegin)
		api.With(middleware.Observe("workflow.get", s.logger), auth.Middleware(scopeRead)).
			Get("/workflow", s.handleView)
		api.With(middleware.Observe("workflow.submit", s.logger), auth.Middleware(scopeWrite), limiter.Middleware(limitSubmit)).
			Post("/workflow/submit", s.handleSubmit)
		api.With(middleware.Observe("workflow.abandon", s.logger), auth.Middleware(scopeWrite)).
			Delete("/workflow", s.handleAbandon)
		api.With(middleware.Observe("workflow.stream", s.logger), auth.Middleware(scopeRead)).
			Get("/workflow/stream", s.handleStream)
		api.With(middleware.Observe("notifications.dismiss", s.logger), auth.Middleware(scopeWrite)).
			Post("/notifications/dismiss", s.handleDismiss)
		api.With(middleware.Observe("balance.get", s.logger), auth.Middleware(scopeRead)).
			Get("/balance", s.handleBalance)
	})
	return r
}

type beginRequest struct {
	Invoice string `json:"invoice"`
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var body beginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	payReq := strings.TrimSpace(body.Invoice)
	if payReq == "" {
		http.Error(w, "invoice required", http.StatusBadRequest)
		return
	}
	req, err := s.node.DecodePayReq(r.Context(), payReq)
	if err != nil {
		s.logger.Warn("decode payment request failed", slog.String("error", err.Error()))
		http.Error(w, "decode payment request: "+err.Error(), http.StatusBadGateway)
		return
	}
	if req.Recipient() == "" && req.Destination != "" {
		alias, err := s.node.NodeAlias(r.Context(), req.Destination)
		if err != nil {
			s.logger.Debug("node alias lookup failed", slog.String("error", err.Error()))
		}
		req.NodeAlias = alias
	}

	controller, err := submission.New(s.payer,
		submission.WithRefresher(s.balances),
		submission.WithNotifier(s.notifications),
		submission.WithHaptics(s.haptics),
		submission.WithReadiness(s.readiness),
		submission.WithMetrics(s.metrics),
		submission.WithLogger(s.logger),
		submission.WithObserver(func(submission.State) { s.feed.Publish() }),
	)
	if err != nil {
		http.Error(w, "create controller", http.StatusInternalServerError)
		return
	}
	wf, err := workflow.Start(req, controller, s.session,
		workflow.WithLogger(s.logger),
		workflow.WithMetrics(s.metrics),
	)
	if err != nil {
		http.Error(w, "start workflow", http.StatusInternalServerError)
		return
	}

	s.beginMu.Lock()
	err = s.manager.Begin(r.Context(), wf)
	if err == nil {
		err = s.session.Put(r.Context(), req)
	}
	s.beginMu.Unlock()
	if err != nil {
		s.logger.Error("begin workflow failed", slog.String("error", err.Error()))
		_ = s.manager.End(context.WithoutCancel(r.Context()), workflow.ReasonAbandoned)
		http.Error(w, "begin workflow", http.StatusInternalServerError)
		return
	}
	s.feed.Publish()

	view, _ := s.currentView()
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	view, ok := s.currentView()
	if !ok {
		http.Error(w, workflow.ErrNoWorkflow.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// SubmitResponse is the body returned by the submit endpoint.
type SubmitResponse struct {
	Outcome submission.Outcome `json:"outcome"`
	Message string             `json:"message,omitempty"`
	State   submission.State   `json:"state"`
	Receipt *PaymentReceipt    `json:"receipt,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	wf := s.activeWorkflow()
	if wf == nil {
		http.Error(w, workflow.ErrNoWorkflow.Error(), http.StatusNotFound)
		return
	}
	controller := wf.Controller()
	started := time.Now()
	result := controller.Submit(r.Context())
	resp := SubmitResponse{Outcome: result.Outcome, Message: result.Message, State: controller.State()}
	if result.Outcome == submission.OutcomeRejected {
		s.writeJSON(w, http.StatusConflict, resp)
		return
	}

	req := wf.Request()
	attempt := &Attempt{
		WorkflowID:  wf.ID(),
		Fingerprint: req.Fingerprint(),
		AmountSat:   req.AmountSat,
		Outcome:     string(result.Outcome),
		Message:     result.Message,
		StartedAt:   started.UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	if err := s.attempts.Record(context.WithoutCancel(r.Context()), attempt); err != nil {
		s.logger.Warn("audit write failed", slog.String("workflow_id", wf.ID()), slog.String("error", err.Error()))
	}
	if result.Outcome == submission.OutcomeCompleted {
		if receipt, ok := s.payer.LastReceipt(); ok {
			resp.Receipt = &receipt
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	err := s.manager.End(r.Context(), workflow.ReasonAbandoned)
	switch {
	case errors.Is(err, workflow.ErrNoWorkflow):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "clear session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	dismissed := s.notifications.Dismiss()
	s.writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request) {
	balance, refreshed := s.balances.Snapshot()
	if refreshed.IsZero() {
		http.Error(w, "balance not loaded", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Balance
		RefreshedAt time.Time `json:"refreshed_at"`
	}{balance, refreshed})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	signals := readiness.Read(s.readiness)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   signals.All(),
		"waiting": signals.Missing(),
	})
}

func (s *Server) activeWorkflow() *workflow.Workflow {
	s.beginMu.Lock()
	defer s.beginMu.Unlock()
	return s.manager.Current()
}

func (s *Server) currentView() (View, bool) {
	wf := s.activeWorkflow()
	if wf == nil {
		return View{}, false
	}
	view := buildView(wf.ID(), wf.Request(), s.display, readiness.Read(s.readiness), wf.Controller().State())
	if note, ok := s.notifications.Active(); ok {
		view.Notification = &note
	}
	return view, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", slog.String("error", err.Error()))
	}
}
