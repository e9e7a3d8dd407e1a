// Package server exposes the churn predictor and the reference insights over
// a JSON HTTP API.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// Config holds the server dependencies. Insights may be nil when no
// reference data is loaded; the customer endpoints then answer 503.
type Config struct {
	Predictor *churn.Predictor
	Insights  *churn.Insights
	// Registry は /metrics で公開する。nil なら専用のレジストリを作る
	Registry   *prometheus.Registry
	SampleSeed uint64
}

// Server is the HTTP API.
type Server struct {
	predictor  *churn.Predictor
	insights   *churn.Insights
	metrics    *Metrics
	registry   *prometheus.Registry
	sampleSeed uint64
	logger     log.Logger
	router     chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		predictor:  cfg.Predictor,
		insights:   cfg.Insights,
		metrics:    NewMetrics(reg),
		registry:   reg,
		sampleSeed: cfg.SampleSeed,
		logger:     log.GetLoggerWithName("server").With(log.PhaseKey, log.PhaseInference),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/predict", s.handlePredict)
		r.Post("/predict/batch", s.handlePredictBatch)
		r.Get("/schema", s.handleSchema)
		r.Get("/customers/churners", s.handleTop(true))
		r.Get("/customers/stayers", s.handleTop(false))
		r.Get("/summary", s.handleSummary)
		r.Get("/samples", s.handleSamples)
		r.Get("/options", s.handleOptions)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		BaseContext:       func(net.Listener) context.Context { return gctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info("Listening", "addr", addr, log.ThresholdKey, s.predictor.Threshold())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// observe logs each request and records request metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("Request",
			log.HTTPMethodKey, r.Method,
			log.HTTPRouteKey, route,
			log.HTTPStatusKey, status,
			log.DurationMsKey, elapsed.Milliseconds(),
		)
	})
}

// PredictResponse is the body returned by the predict endpoints.
type PredictResponse struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
	Churn       bool    `json:"churn"`
	Confidence  float64 `json:"confidence"`
}

func toResponse(p churn.Prediction) PredictResponse {
	return PredictResponse{Label: p.Label, Probability: p.Probability, Churn: p.Churn(), Confidence: p.Confidence()}
}

type errorResponse struct {
	Error  string `json:"error"`
	Column string `json:"column,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"threshold":  s.predictor.Threshold(),
		"insights":   s.insights != nil,
		"schema":     s.predictor.Schema().Fingerprint(),
		"n_features": len(s.predictor.FeatureNames()),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, "malformed_json", errors.Wrap(err, "decode request"))
		return
	}
	rec, err := toRecord(body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "malformed_json", err)
		return
	}
	pred, err := s.predictor.Predict(rec)
	if err != nil {
		s.failPredict(w, err)
		return
	}
	s.count(pred)
	writeJSON(w, http.StatusOK, toResponse(pred))
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var body []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, "malformed_json", errors.Wrap(err, "decode request"))
		return
	}
	recs := make([]dataset.Record, len(body))
	for i, b := range body {
		rec, err := toRecord(b)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "malformed_json", err)
			return
		}
		recs[i] = rec
	}
	preds, err := s.predictor.PredictBatch(recs)
	if err != nil {
		s.failPredict(w, err)
		return
	}
	out := make([]PredictResponse, len(preds))
	for i, p := range preds {
		s.count(p)
		out[i] = toResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) count(p churn.Prediction) {
	s.metrics.Predictions.WithLabelValues(strconv.Itoa(p.Label)).Inc()
	s.metrics.Probabilities.Observe(p.Probability)
}

func (s *Server) failPredict(w http.ResponseWriter, err error) {
	var serr *errors.SchemaError
	switch {
	case errors.As(err, &serr):
		s.metrics.PredictionErrors.WithLabelValues("schema").Inc()
		s.logger.Debug("Rejected record", log.ColumnKey, serr.Column)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: serr.Error(), Column: serr.Column})
	case errors.Is(err, errors.ErrEmptyData):
		s.fail(w, http.StatusBadRequest, "empty", err)
	default:
		s.fail(w, http.StatusInternalServerError, "internal", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, reason string, err error) {
	s.metrics.PredictionErrors.WithLabelValues(reason).Inc()
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	schema := s.predictor.Schema()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":       schema.Version,
		"fingerprint":   schema.Fingerprint(),
		"columns":       schema.Columns,
		"dropped":       schema.Dropped,
		"feature_names": s.predictor.FeatureNames(),
	})
}

func (s *Server) handleTop(churners bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireInsights(w) {
			return
		}
		n, ok := queryInt(w, r, "n", 3)
		if !ok {
			return
		}
		if churners {
			writeJSON(w, http.StatusOK, s.insights.TopChurners(n))
			return
		}
		writeJSON(w, http.StatusOK, s.insights.TopStayers(n))
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	if !s.requireInsights(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.insights.Summary())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if !s.requireInsights(w) {
		return
	}
	n, ok := queryInt(w, r, "n", 5)
	if !ok {
		return
	}
	seed := s.sampleSeed
	if raw := r.URL.Query().Get("seed"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "seed must be a non-negative integer"})
			return
		}
		seed = v
	}
	writeJSON(w, http.StatusOK, s.insights.Sample(n, seed))
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	if !s.requireInsights(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.insights.FieldOptions())
}

func (s *Server) requireInsights(w http.ResponseWriter) bool {
	if s.insights == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reference data not loaded"})
		return false
	}
	return true
}

const maxQueryN = 1000

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxQueryN {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be an integer in [1, 1000]"})
		return 0, false
	}
	return n, true
}

// toRecord converts decoded JSON into raw cell text. Numbers keep their
// shortest representation, booleans become Yes/No and null becomes empty.
func toRecord(body map[string]interface{}) (dataset.Record, error) {
	rec := make(dataset.Record, len(body))
	for k, v := range body {
		switch x := v.(type) {
		case nil:
			rec[k] = ""
		case string:
			rec[k] = x
		case float64:
			rec[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			rec[k] = "No"
			if x {
				rec[k] = "Yes"
			}
		default:
			return nil, errors.NewSchemaError(k, "unsupported JSON value", "")
		}
	}
	return rec, nil
}

// writeJSON encodes v before touching the header so an unencodable value
// still produces a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.GetLoggerWithName("server").Error("Response encoding failed", errors.Wrap(err, "encode response"), log.HTTPStatusKey, status)
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: "response encoding failed"})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
