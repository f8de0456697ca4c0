package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Default endpoints of the detector service.
const (
	DefaultEndpoint  = "http://localhost:8787/model/predict"
	DirectBaseURL    = "http://127.0.0.1:8080"
	DefaultModelName = "poar_detector"
	DefaultTimeout   = 30 * time.Second
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ContentTypeFor guesses the upload content type from a file extension.
// Unknown extensions are sent as JPEG.
func ContentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "image/jpeg"
}

// DirectEndpoint returns the model-serving prediction URL for a model.
func DirectEndpoint(modelName string) string {
	if modelName == "" {
		modelName = DefaultModelName
	}
	return fmt.Sprintf("%s/predictions/%s", DirectBaseURL, modelName)
}

// Prediction is the decoded service response. Raw keeps the exact bytes for printing.
type Prediction struct {
	AuthenticityScore float64 `json:"authenticity_score" yaml:"authenticity_score"`
	Threshold         float64 `json:"threshold"          yaml:"threshold"`
	Status            string  `json:"status"             yaml:"status"`

	Raw json.RawMessage `json:"-" yaml:"-"`
}

// Authentic applies the threshold the server reported.
func (p *Prediction) Authentic() bool {
	return p.AuthenticityScore >= p.Threshold
}

// ConnectionError means the service could not be reached.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client posts images to a prediction endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the whole-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Predict sends raw image bytes and decodes the JSON result.
func (c *Client) Predict(ctx context.Context, data []byte, contentType string) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("unable to parse response: %w", err)
	}
	p.Raw = body
	return &p, nil
}

// SampleImage returns a 224x224 PNG filled with RGB(100, 150, 200), used
// when no image is given on the command line.
func SampleImage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	fill := color.RGBA{R: 100, G: 150, B: 200, A: 255}
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
