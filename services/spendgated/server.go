package spendgated

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"spendgate/crypto"
	"spendgate/native/spend"
	"spendgate/observability"
)

// Server exposes the operator HTTP surface: execution submission, spend
// queries, and the authenticated admin endpoints.
type Server struct {
	engine  *spend.Engine
	auth    *Authenticator
	limiter *rate.Limiter
	metrics *observability.SpendMetrics
	nowFn   func() time.Time
	router  chi.Router
}

// ServerOption customises the server instance.
type ServerOption func(*Server)

// WithServerClock overrides the time source used by query handlers.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewServer wires the HTTP routes around the engine.
func NewServer(engine *spend.Engine, auth *Authenticator, rateCfg RateConfig, opts ...ServerOption) *Server {
	perSecond := rateCfg.ExecutePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := rateCfg.ExecuteBurst
	if burst <= 0 {
		burst = 10
	}
	server := &Server{
		engine:  engine,
		auth:    auth,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		metrics: observability.Spend(),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/execute", server.handleExecute)
		r.Get("/spend/{principal}", server.handleSpendQuery)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/policy", server.handleSetPolicy)
		r.Post("/pause", server.handlePause)
		r.Post("/resume", server.handleResume)
		r.Post("/recover", server.handleRecover)
		r.Get("/status", server.handleStatus)
	})
	server.router = r
	return server
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type executeRequest struct {
	Principal string                    `json:"principal"`
	Amount    string                    `json:"amount"`
	Kind      string                    `json:"kind"`
	Payload   string                    `json:"payload"`
	Grant     *spend.AuthorizationGrant `json:"grant"`
}

type executeResponse struct {
	ID             string  `json:"id"`
	Principal      string  `json:"principal"`
	Kind           string  `json:"kind"`
	Amount         string  `json:"amount"`
	ForwardStatus  string  `json:"forwardStatus"`
	ReceivedAmount *string `json:"receivedAmount"`
	Day            int64   `json:"day"`
	Timestamp      int64   `json:"timestamp"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, reason string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: reason})
}

// rejectionReason maps engine errors onto stable reason tags for metrics and
// HTTP statuses for callers. The tags distinguish "your authorization is bad"
// from "you're over a spend limit" from "the venue failed" without exposing
// internals.
func rejectionReason(err error) (string, int) {
	switch {
	case errors.Is(err, spend.ErrAuthorizationExpired):
		return "authorization_expired", http.StatusForbidden
	case errors.Is(err, spend.ErrInvalidSignature):
		return "invalid_signature", http.StatusForbidden
	case errors.Is(err, spend.ErrInsufficientGrant):
		return "insufficient_grant", http.StatusForbidden
	case errors.Is(err, spend.ErrUnknownActionKind):
		return "unknown_action_kind", http.StatusBadRequest
	case errors.Is(err, spend.ErrActionNotConfigured):
		return "action_not_configured", http.StatusConflict
	case errors.Is(err, spend.ErrActionCapExceeded):
		return "action_cap_exceeded", http.StatusConflict
	case errors.Is(err, spend.ErrDailyNotConfigured):
		return "daily_not_configured", http.StatusConflict
	case errors.Is(err, spend.ErrDailyCapExceeded):
		return "daily_cap_exceeded", http.StatusConflict
	case errors.Is(err, spend.ErrTransferFailed):
		return "transfer_failed", http.StatusBadGateway
	case errors.Is(err, spend.ErrForwardFailed):
		return "forward_failed", http.StatusBadGateway
	case errors.Is(err, spend.ErrPaused):
		return "paused", http.StatusServiceUnavailable
	case errors.Is(err, spend.ErrExecutionInFlight):
		return "in_flight", http.StatusTooManyRequests
	case errors.Is(err, spend.ErrRollbackFailed),
		errors.Is(err, spend.ErrCommitFailed),
		errors.Is(err, spend.ErrLedgerOverflow):
		return "fatal", http.StatusInternalServerError
	default:
		return "internal", http.StatusInternalServerError
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.metrics.RecordRejection("rate_limit")
		writeError(w, http.StatusTooManyRequests, "rate_limit", errors.New("execute rate limit exceeded"))
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	principal, err := crypto.DecodeAddress(strings.TrimSpace(req.Principal))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "malformed", errors.New("amount must be a non-negative integer"))
		return
	}
	kind, err := spend.ParseActionKind(req.Kind)
	if err != nil {
		s.metrics.RecordRejection("unknown_action_kind")
		writeError(w, http.StatusBadRequest, "unknown_action_kind", err)
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Payload), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}

	start := s.nowFn()
	record, err := s.engine.Execute(r.Context(), &spend.ExecutionRequest{
		Principal: principal,
		Amount:    amount,
		Kind:      kind,
		Grant:     req.Grant,
		Payload:   payload,
	})
	if err != nil {
		reason, status := rejectionReason(err)
		s.metrics.RecordRejection(reason)
		s.metrics.RecordExecution(string(kind), "error")
		writeError(w, status, reason, err)
		return
	}
	s.metrics.RecordExecution(string(kind), "success")
	s.metrics.ObserveLatency(string(kind), s.nowFn().Sub(start))

	resp := executeResponse{
		ID:            record.ID,
		Principal:     record.Principal.String(),
		Kind:          string(record.Kind),
		Amount:        record.Amount.String(),
		ForwardStatus: string(record.ForwardStatus),
		Day:           record.Day,
		Timestamp:     record.Timestamp,
	}
	if record.ReceivedAmount != nil {
		value := record.ReceivedAmount.String()
		resp.ReceivedAmount = &value
	}
	writeJSON(w, http.StatusOK, resp)
}

type spendResponse struct {
	Principal string `json:"principal"`
	Day       int64  `json:"day"`
	Spent     string `json:"spent"`
}

func (s *Server) handleSpendQuery(w http.ResponseWriter, r *http.Request) {
	principal, err := crypto.DecodeAddress(chi.URLParam(r, "principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	now := s.nowFn()
	spent, err := s.engine.DailySpent(principal, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, spendResponse{
		Principal: principal.String(),
		Day:       now.Unix() / 86400,
		Spent:     spent.String(),
	})
}

type policyRequest struct {
	Principal string `json:"principal"`
	DailyCap  string `json:"dailyCap"`
	LikeCap   string `json:"likeCap"`
	RepostCap string `json:"repostCap"`
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	principal, err := crypto.DecodeAddress(strings.TrimSpace(req.Principal))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	dailyCap, err := parseDecimal(req.DailyCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	likeCap, err := parseDecimal(req.LikeCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	repostCap, err := parseDecimal(req.RepostCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	policy := &spend.Policy{DailyCap: dailyCap, LikeCap: likeCap, RepostCap: repostCap}
	if err := s.engine.SetPolicy(principal, policy); err != nil {
		writeError(w, http.StatusBadRequest, "policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.engine.Pause()
	s.metrics.SetPause(true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.engine.Resume()
	s.metrics.SetPause(false)
	w.WriteHeader(http.StatusNoContent)
}

type recoverRequest struct {
	To string `json:"to"`
}

type recoverResponse struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	to, err := crypto.DecodeAddress(strings.TrimSpace(req.To))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	swept, err := s.engine.Recover(to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "recover", err)
		return
	}
	s.metrics.RecordRecovery(swept)
	writeJSON(w, http.StatusOK, recoverResponse{To: to.String(), Amount: swept.String()})
}

type statusResponse struct {
	Paused   bool   `json:"paused"`
	Executor string `json:"executor"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Paused:   s.engine.Paused(),
		Executor: s.engine.Executor().String(),
	})
}
