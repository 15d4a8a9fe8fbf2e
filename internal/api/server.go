// Package api exposes a wallet's slot session over a local HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/audit"
	"github.com/MJE43/pf-slot-go/internal/autoplay"
	"github.com/MJE43/pf-slot-go/internal/config"
	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
	"github.com/MJE43/pf-slot-go/internal/store"
)

// TokenHeader carries the API token.
const TokenHeader = "X-Api-Token"

// HistoryStore lists recorded spins.
type HistoryStore interface {
	ListSpins(ctx context.Context, wallet string, page, perPage int) (*store.SpinsPage, error)
	Version(ctx context.Context) (int64, error)
}

// Options wires a Server. History may be nil.
type Options struct {
	Config     *config.Config
	Controller *play.Controller
	Store      *session.Store
	Ledger     ledger.Ledger
	History    HistoryStore
	Auditor    *audit.Auditor
	Logger     zerolog.Logger
}

// Server handles HTTP requests for one controller.
type Server struct {
	opts         Options
	errorHandler *ErrorHandler
	log          zerolog.Logger
	startTime    time.Time
	httpServer   *http.Server
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	log := opts.Logger.With().Str("component", "api").Logger()
	if opts.Auditor == nil {
		opts.Auditor = audit.NewAuditor(engine.New(opts.Config.Game.Paytable.TotalSymbols), games.NewEvaluator(opts.Config.Game.Paytable), 0)
	}
	return &Server{
		opts:         opts,
		errorHandler: NewErrorHandler(log),
		log:          log,
		startTime:    time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.RecoveryHandler)
	if t := s.opts.Config.Server.RequestTimeout; t > 0 {
		r.Use(middleware.Timeout(t))
	}

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/session", s.handleSession)
		r.Get("/frames", s.handleFrames)
		r.Post("/spin", s.handleSpin)
		r.Post("/sync", s.handleSync)
		r.Get("/bundles", s.handleBundles)
		r.Post("/seeds/free", s.handleFreeSeeds)
		r.Post("/seeds/buy/{bundle}", s.handleBuy)
		r.Post("/claim", s.handleClaim)
		r.Get("/verify/{seed}", s.handleVerify)
		r.Get("/history", s.handleHistory)
		r.Get("/history/export.csv", s.handleHistoryExport)
		r.Get("/audit", s.handleAudit)
		r.Post("/autoplay", s.handleAutoplay)
	})
	return r
}

// Serve listens on the configured address until ctx ends, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	cfg := s.opts.Config.Server
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Str("wallet", s.opts.Controller.Wallet()).Msg("api listening")

	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// requireToken checks X-Api-Token when a token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	token := s.opts.Config.Server.Token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(TokenHeader)), []byte(token)) != 1 {
			s.errorHandler.HandleError(w, r, NewError(ErrTypeUnauthorized, "missing or invalid "+TokenHeader).Build())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// decodeBody reads an optional JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap := s.opts.Controller.Session()
	s.writeJSON(w, http.StatusOK, SessionResponse{
		Wallet:     snap.Wallet,
		Seeds:      snap.Seeds,
		PaidSeeds:  snap.PaidSeeds,
		TotalScore: snap.TotalScore,
		Credits:    snap.Credits(),
		Spinning:   s.opts.Controller.Spinning(),
		Dirty:      s.opts.Store.Dirty(snap.Wallet),
	})
}

func (s *Server) handleFrames(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, FramesResponse{
		Spinning: s.opts.Controller.Spinning(),
		Frames:   s.opts.Controller.Frames(),
	})
}

func (s *Server) handleSpin(w http.ResponseWriter, r *http.Request) {
	var req SpinRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	if req.FrameIntervalMs < 0 {
		s.errorHandler.HandleValidationError(w, r, "frame_interval_ms", "must not be negative")
		return
	}
	res, err := s.opts.Controller.Run(r.Context(), time.Duration(req.FrameIntervalMs)*time.Millisecond)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Controller.Sync(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBundles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, BundlesResponse{Bundles: s.opts.Config.Bundles})
}

func (s *Server) handleFreeSeeds(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Controller.RequestFreeSeeds(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "bundle")
	b, ok := s.opts.Config.FindBundle(key)
	if !ok {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeBundleNotFound, "unknown bundle").
			WithContext("bundle", key).
			Build())
		return
	}
	res, err := s.opts.Controller.Buy(r.Context(), b.Plays, b.Price)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Controller.Claim(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := s.opts.Controller.Verify(chi.URLParam(r, "seed"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		s.writeJSON(w, http.StatusOK, store.SpinsPage{Spins: []store.SpinRecord{}, Page: 1})
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		s.errorHandler.HandleValidationError(w, r, "page", "must be a positive integer")
		return
	}
	perPage, err := queryInt(r, "per_page", 50)
	if err != nil || perPage < 1 || perPage > 500 {
		s.errorHandler.HandleValidationError(w, r, "per_page", "must be between 1 and 500")
		return
	}
	res, err := s.opts.History.ListSpins(r.Context(), s.opts.Controller.Wallet(), page, perPage)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.opts.Auditor.Audit(r.Context(), s.opts.Controller.Session(), 0)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	var req AutoplayRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	if req.MaxSpins < 0 || req.FrameIntervalMs < 0 {
		s.errorHandler.HandleValidationError(w, r, "max_spins", "must not be negative")
		return
	}
	runner := autoplay.NewRunner(s.opts.Controller, s.log)
	report, err := runner.Run(r.Context(), autoplay.Config{
		Script:        req.Script,
		MaxSpins:      req.MaxSpins,
		FrameInterval: time.Duration(req.FrameIntervalMs) * time.Millisecond,
	})
	if err != nil && report == nil {
		s.errorHandler.HandleValidationError(w, r, "script", err.Error())
		return
	}
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
