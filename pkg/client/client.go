package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the hookd management API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// List returns registered listeners, active first per path.
func (c *Client) List(ctx context.Context, q ListQuery) ([]Webhook, error) {
	v := url.Values{}
	for k, s := range map[string]string{"type": q.Type, "definition": q.Definition, "element": q.Element, "path": q.Path} {
		if s != "" {
			v.Set(k, s)
		}
	}
	p := "/webhooks"
	if len(v) > 0 {
		p += "?" + v.Encode()
	}
	var out []Webhook
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

// Paths returns every context path with at least one listener.
func (c *Client) Paths(ctx context.Context) ([]string, error) {
	var out struct {
		Paths []string `json:"paths"`
	}
	return out.Paths, c.do(ctx, http.MethodGet, "/paths", nil, &out)
}

// Status returns the owner and queue of one context path.
func (c *Client) Status(ctx context.Context, path string) (PathStatus, error) {
	var out PathStatus
	return out, c.do(ctx, http.MethodGet, "/paths/"+strings.TrimLeft(path, "/"), nil, &out)
}

// Health returns the aggregate health. A DOWN daemon answers 503 with a
// body, which is decoded rather than reported as an error.
func (c *Client) Health(ctx context.Context) (AggregateHealth, error) {
	var out AggregateHealth
	err := c.do(ctx, http.MethodGet, "/webhooks/health", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && out.Status != "" {
		return out, nil
	}
	return out, err
}

func (c *Client) Definitions(ctx context.Context) ([]Definition, error) {
	var out []Definition
	return out, c.do(ctx, http.MethodGet, "/definitions", nil, &out)
}

func (c *Client) Deploy(ctx context.Context, d Definition) (DeployResult, error) {
	c.logger.Debug("Deploying definition", "id", d.ID, "version", d.Version, "elements", len(d.Elements))
	var out DeployResult
	return out, c.do(ctx, http.MethodPost, "/definitions", d, &out)
}

// Undeploy withdraws one version, or every version when version is 0.
func (c *Client) Undeploy(ctx context.Context, id string, version int) error {
	p := "/definitions/" + url.PathEscape(id)
	if version > 0 {
		p += "?version=" + strconv.Itoa(version)
	}
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}
	t := config.TLS
	if t == nil {
		return tlsConfig, nil
	}
	tlsConfig.InsecureSkipVerify = t.SkipVerify // #nosec G402 explicit opt-in
	tlsConfig.ServerName = t.ServerName
	if t.CACert != "" {
		pem, err := os.ReadFile(t.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if t.ClientCert != "" && t.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// do sends body as JSON and decodes the response into out. out is also
// filled for error responses when the body fits it.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		apiErr.Message, apiErr.Code = er.Error, er.Code
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
	}
	c.logger.Debug("API request failed", "method", method, "path", path, "status", resp.StatusCode, "error", apiErr.Message)
	return apiErr
}
