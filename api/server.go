// Package api exposes the voting service as a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"zvote/models"
	"zvote/proposals"
	"zvote/service"
	"zvote/voteerr"
)

const (
	RequestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

type Server struct {
	service *service.VotingService
	logger  *slog.Logger
	metrics http.Handler
	extra   map[string]http.Handler
	mux     *http.ServeMux
}

type ServerOptionFunc func(*Server)

func WithLogger(logger *slog.Logger) ServerOptionFunc {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOptionFunc {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRoute mounts h on pattern next to the API routes.
func WithRoute(pattern string, h http.Handler) ServerOptionFunc {
	return func(s *Server) {
		if s.extra == nil {
			s.extra = make(map[string]http.Handler)
		}
		s.extra[pattern] = h
	}
}

func NewServer(svc *service.VotingService, opts ...ServerOptionFunc) *Server {
	s := &Server{service: svc}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /api/account", s.handleGetAccount)
	s.mux.HandleFunc("GET /api/proposals", s.handleListProposals)
	s.mux.HandleFunc("POST /api/proposals", s.handleCreateProposal)
	s.mux.HandleFunc("GET /api/proposals/{id}", s.handleGetProposal)
	s.mux.HandleFunc("POST /api/proposals/{id}/vote", s.handleCastVote)
	s.mux.HandleFunc("POST /api/proposals/{id}/decrypt", s.handleDecrypt)
	s.mux.HandleFunc("GET /api/voters/{address}/votes", s.handleMyVotes)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	for pattern, h := range s.extra {
		s.mux.Handle(pattern, h)
	}
	return s
}

// Handler returns the routed handler wrapped with request ids and access
// logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		s.mux.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"component", "api",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "component", "api", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type ErrorResponse struct {
	Error string       `json:"error"`
	Kind  voteerr.Kind `json:"kind"`
	Step  string       `json:"step,omitempty"`
}

func statusFor(kind voteerr.Kind) int {
	switch kind {
	case voteerr.KindInvalidIdentity, voteerr.KindInvalidArgument:
		return http.StatusBadRequest
	case voteerr.KindUnauthorized, voteerr.KindSignatureRejected:
		return http.StatusForbidden
	case voteerr.KindProposalNotFound:
		return http.StatusNotFound
	case voteerr.KindAlreadyVoted, voteerr.KindAlreadyInProgress, voteerr.KindProposalClosed:
		return http.StatusConflict
	case voteerr.KindSdkUnavailable:
		return http.StatusServiceUnavailable
	case voteerr.KindTransportFailure, voteerr.KindDecryptionMismatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := voteerr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "component", "api", "kind", kind, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, Step: voteerr.StepOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return voteerr.Newf(voteerr.KindInvalidArgument, "decode", "invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, voteerr.Newf(voteerr.KindInvalidArgument, "decode", "invalid proposal id %q", r.PathValue("id"))
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, voteerr.Newf(voteerr.KindInvalidArgument, "decode", "invalid %s %q", name, raw)
	}
	return v, nil
}

type AccountResponse struct {
	Address  string `json:"address,omitempty"`
	ReadOnly bool   `json:"readOnly"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request) {
	addr, ok := s.service.Account()
	if !ok {
		writeJSON(w, http.StatusOK, AccountResponse{ReadOnly: true})
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Address: addr.Hex()})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	status, err := service.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize")
	if err != nil {
		s.writeError(w, err)
		return
	}
	order := proposals.OrderNewestFirst
	if r.URL.Query().Get("order") == "asc" {
		order = proposals.OrderAscending
	}
	list, err := s.service.ListProposals(r.Context(), service.ListOptions{
		Status:   status,
		Order:    order,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type CreateProposalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	// Unit is minutes, hours or days.
	Unit string `json:"unit"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	duration, err := service.ParseDuration(req.Duration, req.Unit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.service.CreateProposal(r.Context(), req.Title, req.Description, duration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var viewer *common.Address
	if raw := r.URL.Query().Get("viewer"); raw != "" {
		addr, err := service.ParseAccount(raw)
		if err != nil {
			s.writeError(w, voteerr.New(voteerr.KindInvalidIdentity, "decode", err))
			return
		}
		viewer = &addr
	} else if addr, ok := s.service.Account(); ok {
		viewer = &addr
	}
	view, err := s.service.GetProposalView(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type CastVoteRequest struct {
	Choice *models.Choice `json:"choice"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req CastVoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Choice == nil {
		s.writeError(w, voteerr.Newf(voteerr.KindInvalidArgument, "decode", "choice is required"))
		return
	}
	receipt, err := s.service.CastVote(r.Context(), id, *req.Choice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type DecryptRequest struct {
	Force         bool    `json:"force"`
	ExpectedTotal *uint64 `json:"expectedTotal,omitempty"`
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req DecryptRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	res, err := s.service.DecryptResults(r.Context(), id, req.Force, req.ExpectedTotal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMyVotes(w http.ResponseWriter, r *http.Request) {
	voter, err := service.ParseAccount(r.PathValue("address"))
	if err != nil {
		s.writeError(w, voteerr.New(voteerr.KindInvalidIdentity, "decode", err))
		return
	}
	votes, err := s.service.MyVotes(r.Context(), voter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}
