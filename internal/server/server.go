package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"coinsender/internal/asset"
	"coinsender/internal/config"
	"coinsender/internal/gate"
	"coinsender/internal/hmacauth"
	"coinsender/internal/idempotency"
	"coinsender/internal/ledger"
	"coinsender/internal/mover"
)

type Server struct {
	cfg         *config.AppConfig
	ledger      *ledger.Ledger
	gate        *gate.Gate
	idem        idempotency.Store
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	log         logrus.FieldLogger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, led *ledger.Ledger, g *gate.Gate, idem idempotency.Store, mv mover.Mover, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	verifier := &hmacauth.Verifier{
		Secrets: cfg.PrincipalSecrets(),
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	s := &Server{
		cfg:     cfg,
		ledger:  led,
		gate:    g,
		idem:    idem,
		hmac:    verifier,
		metrics: newMetricsRegistry(),
		log:     log,
	}

	if fee, err := led.MinFee(context.Background()); err == nil {
		feeFloat, _ := new(big.Float).SetInt(fee).Float64()
		s.metrics.setMinFee(feeFloat)
	}

	if checker, ok := idem.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := mv.(mover.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	auth := verifier.Middleware

	mux := http.NewServeMux()
	mux.Handle("/api/v1/coins/send", auth(http.HandlerFunc(s.handleSendCoins)))
	mux.Handle("/api/v1/coins/claim", auth(http.HandlerFunc(s.handleClaimCoins)))
	mux.Handle("/api/v1/coins/cancel", auth(http.HandlerFunc(s.handleCancelCoins)))
	mux.Handle("/api/v1/coins/claims", auth(http.HandlerFunc(s.handleViewClaims)))
	mux.Handle("/api/v1/coins/sent", auth(http.HandlerFunc(s.handleViewSentTokens)))
	mux.Handle("/api/v1/vesting/send", auth(http.HandlerFunc(s.handleSendVesting)))
	mux.Handle("/api/v1/vesting/claim", auth(http.HandlerFunc(s.handleClaimVesting)))
	mux.Handle("/api/v1/vesting/cancel", auth(http.HandlerFunc(s.handleCancelVesting)))
	mux.Handle("/api/v1/vesting/sent", auth(http.HandlerFunc(s.handleViewSentCoins)))
	mux.Handle("/api/v1/vesting/claims", auth(http.HandlerFunc(s.handleViewClaimsCoins)))
	mux.Handle("/api/v1/admin/min-fee", auth(http.HandlerFunc(s.handleSetMinFee)))
	mux.Handle("/api/v1/admin/pause", auth(http.HandlerFunc(s.handlePause)))
	mux.Handle("/api/v1/admin/unpause", auth(http.HandlerFunc(s.handleUnpause)))
	mux.Handle("/api/v1/events", auth(http.HandlerFunc(s.handleEvents)))
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// principal extracts the authenticated caller; the auth middleware
// guarantees it is present on every route that reaches a handler.
func principal(r *http.Request) (common.Address, error) {
	addr, ok := hmacauth.Principal(r.Context())
	if !ok {
		return common.Address{}, errors.New("no authenticated principal on request")
	}
	return addr, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps the ledger taxonomy onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrArityMismatch),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrFeeTooLow),
		errors.Is(err, ledger.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, ledger.ErrNotRecipient),
		errors.Is(err, ledger.ErrNotSender),
		errors.Is(err, ledger.ErrNotRevocable):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNoPendingClaim),
		errors.Is(err, ledger.ErrNoTransferFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNothingReleasable):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrSystemPaused):
		return http.StatusLocked
	case errors.Is(err, mover.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseAmounts(in []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(in))
	for i, s := range in {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		out[i] = common.HexToAddress(s)
	}
	return out, nil
}

func parseAssetField(s string) (asset.Asset, error) {
	if s == "" {
		return asset.Asset{}, fmt.Errorf("asset is required")
	}
	return asset.Parse(s)
}

// viewSubject resolves which address a view endpoint reads: the caller by
// default, or an explicit ?address= override. The registry is public, so
// viewing another address is allowed.
func viewSubject(r *http.Request) (common.Address, error) {
	if q := r.URL.Query().Get("address"); q != "" {
		if !common.IsHexAddress(q) {
			return common.Address{}, fmt.Errorf("invalid address %q", q)
		}
		return common.HexToAddress(q), nil
	}
	return principal(r)
}

func parseAssets(in []string) ([]asset.Asset, error) {
	out := make([]asset.Asset, len(in))
	for i, s := range in {
		a, err := asset.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// replayIdempotent serves a cached response if the client sent an
// idempotency key seen before. Returns true when the request was served
// from cache.
func (s *Server) replayIdempotent(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("X-Idempotency-Key")
	if key == "" {
		return "", false
	}
	hashed := idempotency.HashKey(s.cfg.Service.IdempotencyKeySalt, key)
	if existing, _ := s.idem.Get(r.Context(), hashed); existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		return hashed, true
	}
	return hashed, false
}

func (s *Server) saveIdempotent(ctx context.Context, key string, status int, body []byte) {
	if key == "" {
		return
	}
	record := idempotency.Record{
		StatusCode: status,
		Response:   body,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	_ = s.idem.Save(ctx, key, record)
}

// withRequestID assigns every request an id (honoring a client-provided
// one), echoes it in the response, and logs the request under it so log
// lines can be correlated with responses.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = strconv.FormatInt(time.Now().UnixNano(), 10)
		}
		w.Header().Set("X-Request-Id", id)
		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Debug("request received")
		next.ServeHTTP(w, r)
	})
}
