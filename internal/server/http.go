package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"swapvault/internal/asset"
	"swapvault/internal/core"
	"swapvault/internal/ingestion"
	"swapvault/internal/observability"
	"swapvault/internal/pool"
	"swapvault/internal/query"
	"swapvault/internal/vault"
)

// Server exposes the vault over HTTP/JSON: deposit and withdrawal
// submission, live balance reads, receipt history, and token-gated admin
// operations, plus the health and metrics endpoints.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Core          *core.VaultCore
	Query         *query.Service
	HealthChecker *observability.HealthChecker

	// AdminToken gates the /v1/admin routes. Empty disables them.
	AdminToken string
}

func New(addr string, deps *Deps) *Server {
	s := &Server{log: observability.NewLogger("server")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposits", s.handleDeposit(deps.Core))
		r.Post("/withdrawals", s.handleWithdrawal(deps.Core))
		r.Get("/balances/{address}", s.handleBalance(deps.Core))
		r.Get("/vault", s.handleVault(deps.Core))

		if deps.Query != nil {
			r.Get("/users/{address}/history", s.handleHistory(deps.Query))
			r.Get("/receipts/{sequence}", s.handleReceipt(deps.Query))
			r.Get("/activity", s.handleActivity(deps.Query))
		}

		if deps.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(bearerAuth(deps.AdminToken))
				r.Post("/pause", s.handlePause(deps.Core))
				r.Post("/resume", s.handleResume(deps.Core))
				r.Post("/cap", s.handleSetCap(deps.Core))
				r.Post("/rescue", s.handleRescue(deps.Core))
			})
		}
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a 5s grace period.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- user operations ---

func (s *Server) handleDeposit(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		req, err := ingestion.ParseDepositRequest(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		res, err := c.Deposit(req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"deposit_id":   req.DepositID.String(),
			"credited":     res.Credited,
			"effective_in": res.EffectiveIn,
			"swap_path":    res.SwapPath,
		})
	}
}

func (s *Server) handleWithdrawal(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		req, err := ingestion.ParseWithdrawalRequest(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := c.Withdraw(req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"withdrawal_id": req.WithdrawalID.String(),
			"amount":        req.Amount,
		})
	}
}

func (s *Server) handleBalance(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := asset.Address(chi.URLParam(r, "address"))
		if addr == "" {
			writeError(w, http.StatusBadRequest, errors.New("address is required"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address": addr,
			"balance": c.Balance(addr),
		})
	}
}

func (s *Server) handleVault(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		held, deposited, cap := c.Totals()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_held":      held,
			"total_deposited": deposited,
			"cap":             cap,
			"paused":          c.Paused(),
			"sequence":        c.Sequence(),
		})
	}
}

// --- history ---

func (s *Server) handleHistory(q *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := chi.URLParam(r, "address")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		after, _ := strconv.ParseInt(r.URL.Query().Get("after_sequence"), 10, 64)

		resp, err := q.UserHistory(r.Context(), addr, limit, after)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleReceipt(q *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := strconv.ParseInt(chi.URLParam(r, "sequence"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid sequence"))
			return
		}

		entry, err := q.Receipt(r.Context(), seq)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, fmt.Errorf("no receipt at sequence %d", seq))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleActivity(q *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := q.Activity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// --- admin ---

type adminRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	NewCap    uint64 `json:"new_cap,omitempty"`
	Asset     string `json:"asset,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
}

func (s *Server) handlePause(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, id, err := parseAdmin(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := c.Pause(id, asset.Address(req.Caller)); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
	}
}

func (s *Server) handleResume(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, id, err := parseAdmin(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := c.Resume(id, asset.Address(req.Caller)); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
	}
}

func (s *Server) handleSetCap(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, id, err := parseAdmin(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		oldCap, err := c.SetCap(id, asset.Address(req.Caller), req.NewCap)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{
			"old_cap": oldCap,
			"new_cap": req.NewCap,
		})
	}
}

func (s *Server) handleRescue(c *core.VaultCore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, id, err := parseAdmin(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err = c.Rescue(id, asset.Address(req.Caller), req.Asset, asset.Address(req.To), req.Amount)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"asset":  req.Asset,
			"to":     req.To,
			"amount": req.Amount,
		})
	}
}

func parseAdmin(r *http.Request) (adminRequest, uuid.UUID, error) {
	var req adminRequest
	body, err := readBody(r)
	if err != nil {
		return req, uuid.Nil, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, uuid.Nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Caller == "" {
		return req, uuid.Nil, errors.New("caller is required")
	}
	id, err := uuid.Parse(req.RequestID)
	if err != nil {
		return req, uuid.Nil, fmt.Errorf("invalid request_id: %w", err)
	}
	return req, id, nil
}

// bearerAuth gates a route group behind a static token. Comparison is
// constant time.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("invalid or missing bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- helpers ---

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20+1))
	if err != nil {
		return nil, err
	}
	if len(body) > 1<<20 {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidInput), errors.Is(err, vault.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrSystemPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrCapExceeded),
		errors.Is(err, vault.ErrReentrancy),
		errors.Is(err, pool.ErrInsufficientOutput),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrZeroEffectiveInput),
		errors.Is(err, pool.ErrPairNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
