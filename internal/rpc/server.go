// Package rpc provides the JSON-RPC 2.0 and WebSocket API observers use to
// drive the wallet and follow its state.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/ledger"
	"github.com/klingon-exchange/crypwallet/internal/price"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

// Version of the daemon.
const Version = "0.1.0-dev"

// Loader starts and reports on the wallet engine. *chainclient.Adapter
// satisfies it.
type Loader interface {
	Load(ctx context.Context, force bool) bool
	State() chainclient.State
}

// Sender executes validated payments. *send.Coordinator satisfies it.
type Sender interface {
	Send(ctx context.Context, address, amount string) (*chainclient.BroadcastHandle, error)
}

// Config wires the server to the wallet core. Prices may be nil when the
// price board is disabled.
type Config struct {
	Loader   Loader
	Ledger   *ledger.Ledger
	Sender   Sender
	Explorer backend.Backend
	Prices   *price.Board
	Params   *chain.Params
	Logger   *logging.Logger
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	loader   Loader
	ledger   *ledger.Ledger
	sender   Sender
	explorer backend.Backend
	prices   *price.Board
	params   *chain.Params
	log      *logging.Logger
	wsHub    *WSHub
	started  time.Time

	server   *http.Server
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Wallet error codes, in the implementation-defined server error range.
const (
	SetupFailed     = -32001
	BroadcastFailed = -32002
	PriceFetchFail  = -32003
	NotRunning      = -32004
)

// NewServer creates a new JSON-RPC server.
func NewServer(cfg *Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	s := &Server{
		loader:   cfg.Loader,
		ledger:   cfg.Ledger,
		sender:   cfg.Sender,
		explorer: cfg.Explorer,
		prices:   cfg.Prices,
		params:   cfg.Params,
		log:      log.Component("rpc"),
		wsHub:    NewWSHub(log),
		started:  time.Now(),
		quit:     make(chan struct{}),
		handlers: make(map[string]Handler),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Wallet methods
	s.handlers["wallet_load"] = s.walletLoad
	s.handlers["wallet_status"] = s.walletStatus
	s.handlers["wallet_snapshot"] = s.walletSnapshot
	s.handlers["wallet_transactions"] = s.walletTransactions
	s.handlers["wallet_send"] = s.walletSend

	// Explorer pass-through
	s.handlers["wallet_addressInfo"] = s.walletAddressInfo
	s.handlers["wallet_addressTxs"] = s.walletAddressTxs

	// Price methods
	s.handlers["prices_get"] = s.pricesGet
	s.handlers["prices_single"] = s.pricesSingle
	s.handlers["prices_top"] = s.pricesTop
}

// Handler returns the HTTP handler serving RPC and WebSocket requests.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(corsMiddleware)

	mux.Post("/", s.handleRPC)
	mux.Options("/", s.handleCORS)
	mux.Get("/ws", s.handleWS)

	return mux
}

// Start starts the RPC server and the WebSocket event relays.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run(s.quit)
	}()

	if err := s.startRelays(); err != nil {
		close(s.quit)
		s.wg.Wait()
		listener.Close()
		return err
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	bound := listener.Addr().String()
	s.log.Info("RPC server started", "addr", bound, "ws", "ws://"+bound+"/ws")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server. It is safe to call more than once.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)

		close(s.quit)
		if s.prices != nil {
			s.prices.RemoveListener(pricesListenerID)
		}
		s.wg.Wait()

		s.log.Info("RPC server stopped")
	})
	return err
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.log.Debug("RPC call failed", "method", req.Method, "error", err)
		s.writeError(w, req.ID, errorCode(err), err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps a handler error onto a JSON-RPC error code.
func errorCode(err error) int {
	if errors.Is(err, chainclient.ErrNotRunning) {
		return NotRunning
	}
	switch walleterr.KindOf(err) {
	case walleterr.KindInvalidInput:
		return InvalidParams
	case walleterr.KindSetupFailure:
		return SetupFailed
	case walleterr.KindBroadcastFailure:
		return BroadcastFailed
	case walleterr.KindPriceFetchFailure:
		return PriceFetchFail
	}
	return InternalError
}

// parseParams decodes optional params into v. Empty params leave v as is.
func parseParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return walleterr.New(walleterr.KindInvalidInput, "params", err)
	}
	return nil
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
