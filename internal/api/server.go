// Package api serves scans, site evaluations and the ranking read-only over
// HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/internal/reporting"
	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

type Server struct {
	cfg       models.APIConfig
	store     storage.ScanStore
	generator *reporting.ReportGenerator
	evaluator *evaluation.Evaluator
	metrics   http.Handler
	router    chi.Router
	logger    *logrus.Logger
}

type ScanResponse struct {
	*models.Scan
	Status string             `json:"status"`
	Errors []models.ScanError `json:"errors"`
}

type EvaluationResponse struct {
	SiteURL    string                    `json:"site_url"`
	ScanID     string                    `json:"scan_id"`
	Rating     string                    `json:"rating"`
	Evaluation evaluation.SiteEvaluation `json:"evaluation"`
	Checks     []evaluation.CheckOutcome `json:"checks"`
}

// NewServer wires the routes. metrics may be nil, in which case /metrics is
// not served.
func NewServer(cfg models.APIConfig, store storage.ScanStore, generator *reporting.ReportGenerator, evaluator *evaluation.Evaluator, metrics http.Handler, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if evaluator == nil {
		evaluator = evaluation.NewEvaluator(nil, nil)
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		generator: generator,
		evaluator: evaluator,
		metrics:   metrics,
		router:    chi.NewRouter(),
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.cfg.Timeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Timeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/scans/{id}", s.handleGetScan)
	r.Get("/sites/evaluation", s.handleSiteEvaluation)
	r.Get("/ranking", s.handleRanking)
	r.Get("/stats", s.handleStats)
	if s.metrics != nil && s.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http_request")
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.store.GetScan(r.Context(), id)
	if errors.Is(err, storage.ErrScanNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		s.logger.Warnf("Loading scan %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	scanErrors, err := s.store.ScanErrors(r.Context(), id)
	if err != nil {
		s.logger.Warnf("Loading errors of scan %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scanErrors == nil {
		scanErrors = []models.ScanError{}
	}
	writeJSON(w, http.StatusOK, ScanResponse{Scan: scan, Status: scan.Status(), Errors: scanErrors})
}

func (s *Server) handleSiteEvaluation(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	siteURL, err := utils.NormalizeURL(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}

	scans, err := s.store.LatestResults(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, scan := range scans {
		if scan.SiteURL != siteURL {
			continue
		}
		eval, outcomes := s.evaluator.Evaluate(scan.Result)
		rating := "unrateable"
		if eval.Rateable {
			rating = eval.Rating().Level.String()
		}
		if outcomes == nil {
			outcomes = []evaluation.CheckOutcome{}
		}
		writeJSON(w, http.StatusOK, EvaluationResponse{
			SiteURL:    siteURL,
			ScanID:     scan.ID,
			Rating:     rating,
			Evaluation: eval,
			Checks:     outcomes,
		})
		return
	}
	writeError(w, http.StatusNotFound, "no finished scan for site")
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = models.ReportFormatJSON
	}
	withChecks, _ := strconv.ParseBool(q.Get("checks"))

	scans, err := s.store.LatestResults(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := s.generator.GenerateRanking(scans, reporting.RankingOptions{
		Title:      q.Get("title"),
		Format:     format,
		WithChecks: withChecks,
		Sign:       s.generator.Signer() != nil,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if format == models.ReportFormatJSON {
		writeJSON(w, http.StatusOK, report)
		return
	}
	data, err := s.generator.Render(report, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == models.ReportFormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
