package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Brownie44l1/poar-detector/internal/detector"
	"github.com/Brownie44l1/poar-detector/internal/model"
	"github.com/Brownie44l1/poar-detector/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fixedModel always returns the same logit.
type fixedModel struct {
	logit float32
}

func (f fixedModel) Forward(*model.Tensor) ([]float32, error) { return []float32{f.logit}, nil }
func (f fixedModel) Device() model.Device                     { return model.DeviceCPU }
func (f fixedModel) Close() error                             { return nil }

type failingModel struct{}

func (failingModel) Forward(*model.Tensor) ([]float32, error) {
	return nil, errors.New("session run failed")
}
func (failingModel) Device() model.Device { return model.DeviceCPU }
func (failingModel) Close() error         { return nil }

type serverOpts struct {
	model    model.Model
	metadata string
	noModel  bool
	workers  int
	options  Options
}

func newTestServer(t *testing.T, so serverOpts) (*httptest.Server, *worker.Pool) {
	t.Helper()

	dir := t.TempDir()
	if !so.noModel {
		require.NoError(t, os.WriteFile(filepath.Join(dir, detector.DefaultModelFile), []byte("onnx"), 0o600))
	}
	if so.metadata != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, detector.DefaultMetaFile), []byte(so.metadata), 0o600))
	}
	env := &detector.Environment{SystemProperties: map[string]string{detector.PropModelDir: dir}}

	m := so.model
	if m == nil {
		m = fixedModel{}
	}
	loader := model.LoaderFunc(func(string, model.Device) (model.Model, error) { return m, nil })

	if so.workers == 0 {
		so.workers = 1
	}
	handlers := make([]*detector.Handler, so.workers)
	for i := range handlers {
		handlers[i] = detector.NewHandler(env, loader, zaptest.NewLogger(t))
	}
	pool, err := worker.NewPool(handlers, zaptest.NewLogger(t))
	require.NoError(t, err)
	if !so.noModel {
		require.NoError(t, pool.InitializeAll(env))
	}

	srv := httptest.NewServer(NewHandler(pool, so.options, zaptest.NewLogger(t)).Routes())
	t.Cleanup(srv.Close)
	return srv, pool
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func postImage(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "image/png", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])
}

func TestPing(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		resp, err := http.Get(srv.URL + "/ping")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Healthy", decode[map[string]string](t, resp)["status"])
	})

	t.Run("not ready", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{noModel: true})

		resp, err := http.Get(srv.URL + "/ping")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "Unhealthy", decode[map[string]string](t, resp)["status"])
	})
}

func TestPredict_Routes(t *testing.T) {
	logit := float32(math.Log(0.8 / 0.2))
	srv, _ := newTestServer(t, serverOpts{model: fixedModel{logit: logit}, metadata: `{"threshold": 0.75}`})

	for _, path := range []string{"/predictions/poar_detector", "/model/predict", "/model/predict/poar_detector"} {
		t.Run(path, func(t *testing.T) {
			resp := postImage(t, srv.URL+path, testPNG(t))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			got := decode[model.Result](t, resp)
			assert.Equal(t, model.Result{AuthenticityScore: 0.8, Threshold: 0.75, Status: model.StatusAuthentic}, got)
		})
	}
}

func TestPredict_JSONShape(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp := postImage(t, srv.URL+"/model/predict", testPNG(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[map[string]any](t, resp)
	assert.Equal(t, map[string]any{
		"authenticity_score": 0.5,
		"threshold":          0.6,
		"status":             "NOT AUTHENTIC",
	}, got)
}

func TestPredict_Multipart(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{model: fixedModel{logit: 3}})

	for _, field := range []string{"data", "image"} {
		t.Run(field, func(t *testing.T) {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			fw, err := mw.CreateFormFile(field, "art.png")
			require.NoError(t, err)
			_, err = fw.Write(testPNG(t))
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			resp, err := http.Post(srv.URL+"/model/predict", mw.FormDataContentType(), &body)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, model.StatusAuthentic, decode[model.Result](t, resp).Status)
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("note", "hello"))
		require.NoError(t, mw.Close())

		resp, err := http.Post(srv.URL+"/model/predict", mw.FormDataContentType(), &body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name       string
		opts       serverOpts
		path       string
		body       []byte
		wantStatus int
		wantType   string
	}{
		{"unknown model", serverOpts{}, "/predictions/other", testPNGBytes, http.StatusNotFound, "ModelNotFound"},
		{"empty body", serverOpts{}, "/model/predict", nil, http.StatusBadRequest, "InvalidInput"},
		{"garbage body", serverOpts{}, "/model/predict", []byte("not an image"), http.StatusBadRequest, "DecodeError"},
		{"model missing", serverOpts{noModel: true}, "/model/predict", testPNGBytes, http.StatusServiceUnavailable, "ServiceUnavailable"},
		{"model failure", serverOpts{model: failingModel{}}, "/model/predict", testPNGBytes, http.StatusInternalServerError, "InternalServerError"},
		{"body too large", serverOpts{options: Options{MaxBodyBytes: 16}}, "/model/predict", testPNGBytes, http.StatusRequestEntityTooLarge, "Request Entity Too Large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.opts)

			resp := postImage(t, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			got := decode[errorResponse](t, resp)
			assert.Equal(t, tt.wantStatus, got.Code)
			assert.Equal(t, tt.wantType, got.Type)
			assert.NotEmpty(t, got.Message)
		})
	}
}

var testPNGBytes = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func TestPredict_QueueTimeout(t *testing.T) {
	srv, pool := newTestServer(t, serverOpts{options: Options{QueueTimeout: 20 * time.Millisecond}})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h)

	resp := postImage(t, srv.URL+"/model/predict", testPNG(t))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, err := http.Get(srv.URL + "/model/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{options: Options{CORS: true, MetricsPath: "/metrics"}})

	t.Run("cors preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/model/predict", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("request id is generated", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Len(t, resp.Header.Get(RequestIDHeader), 36)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set(RequestIDHeader, "abc-123")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
	})

	t.Run("metrics", func(t *testing.T) {
		postImage(t, srv.URL+"/model/predict", testPNG(t)).Body.Close()

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "detector_predictions_total")
	})
}

func TestRequestID_Empty(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", detector.ErrInvalidInput), http.StatusBadRequest},
		{detector.ErrDecode, http.StatusBadRequest},
		{detector.ErrModelNotFound, http.StatusServiceUnavailable},
		{worker.ErrPoolClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _, _ := classifyError(tt.err)
			assert.Equal(t, tt.want, status)
		})
	}
}
