package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

const governanceKeyHeader = "X-Governance-Key"

// Vault is the trigger surface the server exposes. *vault.Engine satisfies it.
type Vault interface {
	Rebalance(ctx context.Context) (vault.Outcome, error)
	HarvestRewards(ctx context.Context) (vault.Outcome, error)
	ClaimRemainder(ctx context.Context) (vault.Outcome, error)
	Deposit(ctx context.Context, depositor string, amount sdkmath.Int) (vault.Outcome, error)
	Withdraw(ctx context.Context, owner string, shares sdkmath.Int) (vault.Outcome, error)
	UpdateConfig(ctx context.Context, caller string, patch types.PolicyPatch) (types.Policy, error)
	State(ctx context.Context) (vault.VaultState, error)
	Journal(ctx context.Context, limit int) ([]types.JournalEntry, error)
}

// Config holds the configuration for creating a new WebServer.
type Config struct {
	Vault         Vault
	Port          string
	GovernanceKey string       // required header value for config updates; empty leaves the check to the engine
	HealthCheck   func() error // optional storage probe
}

// WebServer serves the trigger API, the read API and the metrics endpoint.
type WebServer struct {
	router        *mux.Router
	port          string
	vault         Vault
	governanceKey string
	healthCheck   func() error
	signatures    *signatureVerifier
	started       time.Time
}

type depositRequest struct {
	Depositor string      `json:"depositor"`
	Amount    sdkmath.Int `json:"amount"`
}

type withdrawRequest struct {
	Owner  string      `json:"owner"`
	Shares sdkmath.Int `json:"shares"`
}

type configRequest struct {
	Caller string            `json:"caller"`
	Patch  types.PolicyPatch `json:"patch"`
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Vault == nil {
		return nil, errors.New("vault cannot be nil")
	}
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:        mux.NewRouter(),
		port:          port,
		vault:         cfg.Vault,
		governanceKey: cfg.GovernanceKey,
		healthCheck:   cfg.HealthCheck,
		signatures:    newSignatureVerifier(time.Now),
		started:       time.Now(),
	}
	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/state", ws.handleGetState).Methods("GET")
	api.HandleFunc("/journal", ws.handleGetJournal).Methods("GET")

	api.HandleFunc("/rebalance", ws.trigger(ws.vault.Rebalance)).Methods("POST")
	api.HandleFunc("/harvest", ws.trigger(ws.vault.HarvestRewards)).Methods("POST")
	api.HandleFunc("/claim-remainder", ws.trigger(ws.vault.ClaimRemainder)).Methods("POST")
	api.HandleFunc("/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/config", ws.handleUpdateConfig).Methods("PUT")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // triggers wait for block inclusion
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		webLogger.Info().Msg("Web server stopped")
		return nil
	}
}

func (ws *WebServer) trigger(fn func(ctx context.Context) (vault.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := fn(r.Context())
		if err != nil {
			ws.writeTriggerError(w, err)
			return
		}
		ws.writeJSONResponse(w, http.StatusOK, outcome)
	}
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	body, ok := ws.readSigned(w, r, &req, "deposit")
	if !ok {
		return
	}
	if err := ws.signatures.verify(r, body, req.Depositor); err != nil {
		ws.writeErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	outcome, err := ws.vault.Deposit(r.Context(), req.Depositor, req.Amount)
	if err != nil {
		ws.writeTriggerError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, outcome)
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	body, ok := ws.readSigned(w, r, &req, "withdraw")
	if !ok {
		return
	}
	if err := ws.signatures.verify(r, body, req.Owner); err != nil {
		ws.writeErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	outcome, err := ws.vault.Withdraw(r.Context(), req.Owner, req.Shares)
	if err != nil {
		ws.writeTriggerError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, outcome)
}

// readSigned keeps the raw body for signature checks and decodes it into into.
func (ws *WebServer) readSigned(w http.ResponseWriter, r *http.Request, into interface{}, what string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	if err != nil || len(body) > maxSignedBody {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid "+what+" request")
		return nil, false
	}
	if err := json.Unmarshal(body, into); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid "+what+" request")
		return nil, false
	}
	return body, true
}

func (ws *WebServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if ws.governanceKey != "" {
		key := r.Header.Get(governanceKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(ws.governanceKey)) != 1 {
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Invalid governance key")
			return
		}
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid config request")
		return
	}
	policy, err := ws.vault.UpdateConfig(r.Context(), req.Caller, req.Patch)
	if err != nil {
		ws.writeTriggerError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, policy)
}

func (ws *WebServer) handleGetState(w http.ResponseWriter, r *http.Request) {
	vs, err := ws.vault.State(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to read vault state")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault state")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, vs)
}

// handleGetJournal returns the most recent journal entries
func (ws *WebServer) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}

	entries, err := ws.vault.Journal(r.Context(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get journal")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve journal")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   limit,
	})
}

// handleHealth reports process stats and whether storage answers
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	storageHealthy := true
	if ws.healthCheck != nil {
		if err := ws.healthCheck(); err != nil {
			webLogger.Warn().Err(err).Msg("Storage health check failed")
			storageHealthy = false
		}
	}

	status, statusCode := "OK", http.StatusOK
	if !storageHealthy {
		status, statusCode = "DEGRADED", http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "cdpvault",
			"version": "1.0.0",
		},
		"storage_healthy": storageHealthy,
	})
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrInvalidPolicy), errors.Is(err, types.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrStateFrozen), errors.Is(err, types.ErrLoanOutstanding):
		return http.StatusConflict
	case errors.Is(err, types.ErrHarvestTooEarly):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrExternalTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeTriggerError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		webLogger.Error().Err(err).Int("status", code).Msg("Trigger failed")
	}
	ws.writeErrorResponse(w, code, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+governanceKeyHeader+", "+HeaderTimestamp+", "+HeaderNonce+", "+HeaderPubKey+", "+HeaderSignature)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
