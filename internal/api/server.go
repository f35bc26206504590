// Package api exposes a sale over HTTP. Mutating routes identify their
// caller by an EIP-191 signature over the request body.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
	defaultTTL     = 5 * time.Minute
)

// Sale is the contract surface served by the gateway.
type Sale interface {
	BuyTokens(ctx context.Context, call sale.Call) error
	AddToWhitelist(ctx context.Context, call sale.Call, addr common.Address) error
	AddMultipleWhitelist(ctx context.Context, call sale.Call, addrs []common.Address) error
	ChangeAdmin(ctx context.Context, call sale.Call, newAdmin common.Address) error
	PauseSale(ctx context.Context, call sale.Call) error
	UnpauseSale(ctx context.Context, call sale.Call) error
	WithdrawFunds(ctx context.Context, call sale.Call) error

	Status() sale.Status
	Contribution(addr common.Address) *uint256.Int
	IsWhitelisted(addr common.Address) bool
	Metadata() sale.Metadata
}

// Server routes HTTP requests to a sale.
type Server struct {
	sale    Sale
	metrics http.Handler
	ttl     time.Duration
	now     func() time.Time
	seen    *replayCache
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSignatureTTL sets how far issued_at may be from the server clock.
func WithSignatureTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithClock overrides the clock used for the signature window.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server for sl.
func New(sl Sale, opts ...Option) *Server {
	s := &Server{
		sale: sl,
		ttl:  defaultTTL,
		now:  time.Now,
		seen: newReplayCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the chi router of the gateway.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(requestLogger)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/buy", s.signed(s.handleBuy))
		v1.Post("/whitelist", s.signed(s.handleWhitelist))
		v1.Post("/whitelist/batch", s.signed(s.handleWhitelistBatch))
		v1.Post("/admin", s.signed(s.handleChangeAdmin))
		v1.Post("/pause", s.signed(s.handlePause))
		v1.Post("/unpause", s.signed(s.handleUnpause))
		v1.Post("/withdraw", s.signed(s.handleWithdraw))

		v1.Get("/status", s.handleStatus)
		v1.Get("/contributions/{address}", s.handleContribution)
		v1.Get("/whitelist/{address}", s.handleIsWhitelisted)
		v1.Get("/metadata", s.handleMetadata)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe serves the gateway on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("gateway listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// request is the body of every mutating route. Fields a route does not use
// are ignored; amount is the value attached to the call and payment the
// transaction that paid it, when the ledger settles on chain. Nonce only
// serves to make otherwise identical requests distinct.
type request struct {
	IssuedAt  time.Time        `json:"issued_at"`
	Nonce     string           `json:"nonce,omitempty"`
	Amount    string           `json:"amount,omitempty"`
	Payment   common.Hash      `json:"payment,omitempty"`
	Address   *common.Address  `json:"address,omitempty"`
	Addresses []common.Address `json:"addresses,omitempty"`
	NewAdmin  *common.Address  `json:"new_admin,omitempty"`
}

type signedHandler func(w http.ResponseWriter, r *http.Request, call sale.Call, req request)

// signed authenticates the body and decodes it before calling next.
func (s *Server) signed(next signedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "", "unreadable body")
			return
		}
		caller, err := s.authenticate(body, r.Header.Get(SignatureHeader), s.now())
		if err != nil {
			log.Debugf("rejecting unsigned request %s: %v", middleware.GetReqID(r.Context()), err)
			writeError(w, r, http.StatusUnauthorized, "", err.Error())
			return
		}

		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "", "invalid request body")
			return
		}
		call := sale.Call{Caller: caller, Payment: req.Payment}
		if req.Amount != "" {
			amount, err := sale.ParseAmount(req.Amount)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "", err.Error())
				return
			}
			call.Amount = amount
		}
		next(w, r, call, req)
	}
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, call sale.Call, _ request) {
	s.finish(w, r, s.sale.BuyTokens(r.Context(), call))
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request, call sale.Call, req request) {
	if req.Address == nil {
		writeError(w, r, http.StatusBadRequest, "", "address is required")
		return
	}
	s.finish(w, r, s.sale.AddToWhitelist(r.Context(), call, *req.Address))
}

func (s *Server) handleWhitelistBatch(w http.ResponseWriter, r *http.Request, call sale.Call, req request) {
	s.finish(w, r, s.sale.AddMultipleWhitelist(r.Context(), call, req.Addresses))
}

func (s *Server) handleChangeAdmin(w http.ResponseWriter, r *http.Request, call sale.Call, req request) {
	if req.NewAdmin == nil {
		writeError(w, r, http.StatusBadRequest, "", "new_admin is required")
		return
	}
	s.finish(w, r, s.sale.ChangeAdmin(r.Context(), call, *req.NewAdmin))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, call sale.Call, _ request) {
	s.finish(w, r, s.sale.PauseSale(r.Context(), call))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request, call sale.Call, _ request) {
	s.finish(w, r, s.sale.UnpauseSale(r.Context(), call))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, call sale.Call, _ request) {
	s.finish(w, r, s.sale.WithdrawFunds(r.Context(), call))
}

// finish answers a mutating route: the sale status on success, the mapped
// error otherwise.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		status, kind := statusOf(err)
		if status >= http.StatusInternalServerError {
			log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		writeError(w, r, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     uuid.New(),
		"status": s.sale.Status(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sale.Status())
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":      addr,
		"contribution": s.sale.Contribution(addr).Dec(),
	})
}

func (s *Server) handleIsWhitelisted(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":     addr,
		"whitelisted": s.sale.IsWhitelisted(addr),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sale.Metadata())
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, r, http.StatusBadRequest, "", fmt.Sprintf("invalid address %q", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// statusOf maps an entry point error to an HTTP status and wire kind code.
func statusOf(err error) (int, string) {
	if kind, ok := sale.KindOf(err); ok {
		switch kind {
		case sale.NotAdmin:
			return http.StatusForbidden, kind.String()
		case sale.SalePaused, sale.SaleEnded, sale.NotWhitelisted:
			return http.StatusConflict, kind.String()
		case sale.IndividualExceed, sale.MaxExceed:
			return http.StatusUnprocessableEntity, kind.String()
		case sale.RequirementNotMet:
			return http.StatusPreconditionFailed, kind.String()
		}
	}
	switch {
	case errors.Is(err, sale.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity, ""
	case errors.Is(err, sale.ErrCollectFailed):
		return http.StatusPaymentRequired, ""
	case errors.Is(err, sale.ErrDispatchFailed):
		return http.StatusBadGateway, ""
	case errors.Is(err, sale.ErrReentrantCall):
		return http.StatusConflict, ""
	case errors.Is(err, sale.ErrBusy):
		return http.StatusServiceUnavailable, ""
	}
	return http.StatusInternalServerError, ""
}

type errorBody struct {
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {
		Kind:      kind,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("writing response: %v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Infof("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}
