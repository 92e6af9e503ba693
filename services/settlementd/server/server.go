package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"idlechain/observability"
	"idlechain/services/settlementd/exports"
	"idlechain/services/settlementd/models"
	"idlechain/services/settlementd/query"
)

// Reader is the read side of settlement exposed over HTTP.
type Reader interface {
	ListBlocks(ctx context.Context, page query.Page) (*query.BlockPage, error)
	LatestBlock(ctx context.Context) (*models.Block, error)
	Block(ctx context.Context, number uint64) (*models.Block, error)
	BlockRewards(ctx context.Context, number uint64) ([]models.RewardRecord, error)
	RewardHistory(ctx context.Context, participantID string, page query.Page) (*query.RewardPage, error)
	ParticipantSummary(ctx context.Context, participantID string) (*query.Summary, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Reader    Reader
	RateLimit RateLimit
	// Ready reports store health for /healthz. Nil means always healthy.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// Server serves the settlement read API.
type Server struct {
	reader  Reader
	ready   func(ctx context.Context) error
	limiter *RateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the router.
func New(cfg Config) (*Server, error) {
	if cfg.Reader == nil {
		return nil, errors.New("server: reader required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reader:  cfg.Reader,
		ready:   cfg.Ready,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the router wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "settlementd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observeRequests)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/blocks", s.listBlocks)
		api.Get("/blocks/latest", s.latestBlock)
		api.Get("/blocks/{number}", s.getBlock)
		api.Get("/blocks/{number}/rewards", s.blockRewards)
		api.Get("/participants/{id}/rewards", s.rewardHistory)
		api.Get("/participants/{id}/summary", s.participantSummary)
	})
	return r
}

func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(route, status, time.Since(start))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listBlocks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.reader.ListBlocks(r.Context(), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]blockView, 0, len(result.Blocks))
	for _, b := range result.Blocks {
		views = append(views, newBlockView(b))
	}
	writeJSON(w, http.StatusOK, blockListResponse{Blocks: views, NextBefore: result.NextBefore})
}

func (s *Server) latestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.reader.LatestBlock(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBlockView(*block))
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	number, ok := blockNumberParam(w, r)
	if !ok {
		return
	}
	block, err := s.reader.Block(r.Context(), number)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBlockView(*block))
}

func (s *Server) blockRewards(w http.ResponseWriter, r *http.Request) {
	number, ok := blockNumberParam(w, r)
	if !ok {
		return
	}
	format, err := exports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.reader.BlockRewards(r.Context(), number)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if format == exports.FormatJSON {
		views := make([]exports.RecordView, 0, len(records))
		for _, rec := range records {
			views = append(views, exports.NewRecordView(rec))
		}
		writeJSON(w, http.StatusOK, blockRewardsResponse{Block: number, Rewards: views})
		return
	}
	data, checksum, err := exports.Render(format, records)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=block-%d-rewards.%s", number, format))
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) rewardHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	result, err := s.reader.RewardHistory(r.Context(), id, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]exports.RecordView, 0, len(result.Records))
	for _, rec := range result.Records {
		views = append(views, exports.NewRecordView(rec))
	}
	writeJSON(w, http.StatusOK, rewardHistoryResponse{ParticipantID: id, Rewards: views, NextBefore: result.NextBefore})
}

func (s *Server) participantSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reader.ParticipantSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(summary))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", chimw.GetReqID(r.Context())),
		slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func parsePage(r *http.Request) (query.Page, error) {
	var page query.Page
	values := r.URL.Query()
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return page, fmt.Errorf("invalid limit %q", raw)
		}
		page.Limit = limit
	}
	if raw := strings.TrimSpace(values.Get("before")); raw != "" {
		before, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || before == 0 {
			return page, fmt.Errorf("invalid before %q", raw)
		}
		page.Before = before
	}
	return page, nil
}

func blockNumberParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "number")
	number, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || number == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid block number %q", raw))
		return 0, false
	}
	return number, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
