package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Brownie44l1/poar-detector/internal/detector"
	"github.com/Brownie44l1/poar-detector/internal/metrics"
	"github.com/Brownie44l1/poar-detector/internal/model"
	"github.com/Brownie44l1/poar-detector/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Multipart field names accepted for uploads, in order of preference.
var uploadFields = []string{"data", "image", "file"}

// Options configures the HTTP layer.
type Options struct {
	ModelName    string
	QueueTimeout time.Duration
	MaxBodyBytes int64
	CORS         bool
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// Handler serves predictions from a pool of detector handlers.
type Handler struct {
	pool   *worker.Pool
	opts   Options
	logger *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(pool *worker.Pool, opts Options, logger *zap.Logger) *Handler {
	if opts.ModelName == "" {
		opts.ModelName = detector.DefaultModelName
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pool:   pool,
		opts:   opts,
		logger: logger,
	}
}

// Routes registers every endpoint on a new mux and wraps it in middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("POST /predictions/{model}", h.Predict)
	mux.HandleFunc("POST /model/predict", h.Predict)
	mux.HandleFunc("POST /model/predict/{model}", h.Predict)

	if h.opts.MetricsPath != "" {
		mux.Handle("GET "+h.opts.MetricsPath, promhttp.Handler())
	}

	var handler http.Handler = mux
	if h.opts.CORS {
		handler = enableCORS(handler)
	}
	return withRequestID(handler)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ping reports readiness: every worker has its model loaded.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if !h.pool.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "Unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

// Predict runs one image through the detector and returns the result record.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	reqID := RequestID(r.Context())
	log := h.logger.With(zap.String("request_id", reqID))

	modelName := r.PathValue("model")
	if modelName == "" {
		modelName = h.opts.ModelName
	}
	if modelName != h.opts.ModelName {
		metrics.PredictionsTotal.WithLabelValues(h.opts.ModelName, metrics.OutcomeInvalidInput).Inc()
		writeError(w, http.StatusNotFound, "ModelNotFound",
			fmt.Sprintf("Model not found: %s", modelName))
		return
	}

	payload, status, err := h.readPayload(w, r)
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues(modelName, metrics.OutcomeInvalidInput).Inc()
		log.Warn("Rejected request body", zap.Error(err))
		writeError(w, status, http.StatusText(status), err.Error())
		return
	}

	result, err := h.predict(r.Context(), modelName, payload)
	if err != nil {
		status, kind, outcome := classifyError(err)
		metrics.PredictionsTotal.WithLabelValues(modelName, outcome).Inc()
		if status >= http.StatusInternalServerError {
			log.Error("Prediction failed", zap.Error(err))
		} else {
			log.Info("Prediction rejected", zap.Error(err))
		}
		writeError(w, status, kind, err.Error())
		return
	}

	metrics.PredictionsTotal.WithLabelValues(modelName, metrics.OutcomeSuccess).Inc()
	metrics.AuthenticityScore.WithLabelValues(modelName).Observe(result.AuthenticityScore)
	metrics.VerdictsTotal.WithLabelValues(modelName, string(result.Status)).Inc()

	log.Info("Prediction served",
		zap.String("model", modelName),
		zap.Float64("score", result.AuthenticityScore),
		zap.String("status", string(result.Status)))

	writeJSON(w, http.StatusOK, result)
}

// predict waits for a free worker, bounded by the queue timeout, then runs
// the handler synchronously.
func (h *Handler) predict(ctx context.Context, modelName string, payload detector.Payload) (model.Result, error) {
	waitStart := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.opts.QueueTimeout)
	defer cancel()

	var result model.Result
	err := h.pool.Do(ctx, func(d *detector.Handler) error {
		metrics.QueueWait.WithLabelValues(modelName).Observe(time.Since(waitStart).Seconds())
		metrics.WorkersBusy.Inc()
		defer metrics.WorkersBusy.Dec()

		start := time.Now()
		results, err := d.Handle(payload)
		metrics.PredictionDuration.WithLabelValues(modelName).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if len(results) != 1 {
			return fmt.Errorf("handler returned %d results for one request", len(results))
		}
		result = results[0]
		return nil
	})
	return result, err
}

// readPayload turns the request into a detector payload. Raw bodies land
// under "body" and multipart uploads under "data", matching what a
// model-serving frontend passes to its handlers.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request) (detector.Payload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.opts.MaxBodyBytes); err != nil {
			return nil, bodyErrorStatus(err), fmt.Errorf("failed to parse form: %w", err)
		}
		for _, field := range uploadFields {
			file, _, err := r.FormFile(field)
			if err != nil {
				continue
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return nil, bodyErrorStatus(err), fmt.Errorf("failed to read upload: %w", err)
			}
			return detector.BatchPayload{{detector.KeyData: data}}, 0, nil
		}
		return nil, http.StatusBadRequest, errors.New("no image file provided, use 'data' or 'image' as the form field name")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyErrorStatus(err), fmt.Errorf("failed to read request body: %w", err)
	}
	return detector.BatchPayload{{detector.KeyBody: body}}, 0, nil
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// classifyError maps pipeline errors to an HTTP status, an error type for the
// response body and a metrics outcome.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, detector.ErrInvalidInput):
		return http.StatusBadRequest, "InvalidInput", metrics.OutcomeInvalidInput
	case errors.Is(err, detector.ErrDecode):
		return http.StatusBadRequest, "DecodeError", metrics.OutcomeInvalidInput
	case errors.Is(err, detector.ErrModelNotFound),
		errors.Is(err, detector.ErrNotReady),
		errors.Is(err, worker.ErrPoolClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "ServiceUnavailable", metrics.OutcomeUnavailable
	default:
		return http.StatusInternalServerError, "InternalServerError", metrics.OutcomeError
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Code: status, Type: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
