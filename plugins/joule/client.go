package joule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/supergoudvis116/joule-connector/internal/rate"
)

const maxResponseBody = 4 << 20

// Session supplies bearer tokens for API calls.
type Session interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Login(ctx context.Context) (*oauth2.Token, error)
	Invalidate()
}

// Client talks to the Joule consumer REST API.
type Client struct {
	baseURL    string
	session    Session
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the rate-limited default transport.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg Config, session Session, opts ...ClientOption) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: baseURL,
		session: session,
		timeout: timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = rate.WrapHTTP(cfg.RateLimits(), &http.Client{Timeout: timeout})
	}
	return c, nil
}

// Login forces a fresh session.
func (c *Client) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.session.Login(ctx)
	return classify(err)
}

// Thermostats lists the account's thermostats with their latest readings.
func (c *Client) Thermostats(ctx context.Context) ([]Thermostat, error) {
	var resp struct {
		Devices []json.RawMessage `json:"devices"`
	}
	if err := c.getJSON(ctx, "/v2/consumer/devices", "", &resp); err != nil {
		return nil, err
	}

	out := make([]Thermostat, 0, len(resp.Devices))
	for _, raw := range resp.Devices {
		if isEmptyObject(raw) {
			continue
		}
		var device Device
		if err := json.Unmarshal(raw, &device); err != nil {
			return nil, fmt.Errorf("%w: decode device: %w", ErrResults, err)
		}
		thermostat, err := c.History(ctx, FromDevice(device))
		if err != nil {
			return nil, err
		}
		out = append(out, thermostat)
	}
	return out, nil
}

// History fetches the latest readings for a thermostat and applies them.
func (c *Client) History(ctx context.Context, t Thermostat) (Thermostat, error) {
	if t.GUID == "" {
		return t, fmt.Errorf("%w: thermostat %s has no device id", ErrResults, t.SerialNumber)
	}
	var history History
	path := "/v2/consumer/history/" + url.PathEscape(t.GUID) + "/latest"
	if err := c.getJSON(ctx, path, "filter="+strings.Join(HistoryFilter, ","), &history); err != nil {
		return t, err
	}
	return ApplyHistory(t, history), nil
}

// SetRegulationMode changes the room setpoint. temperature is in hundredths
// of °C. The API only takes the setpoint; mode and duration are logged.
func (c *Client) SetRegulationMode(ctx context.Context, t Thermostat, mode int, temperature int, duration time.Duration) error {
	if t.GUID == "" {
		return fmt.Errorf("%w: thermostat %s has no device id", ErrResults, t.SerialNumber)
	}
	payload := map[string]any{
		"room_setpoint": map[string]any{
			"temperature": float64(temperature) / 100,
		},
	}
	c.logger.Info("set regulation mode",
		zap.String("serial", t.SerialNumber),
		zap.Int("mode", mode),
		zap.Int("temperature", temperature),
		zap.Duration("duration", duration),
	)
	return c.doJSON(ctx, http.MethodPatch, "/v2/consumer/devices/"+url.PathEscape(t.GUID)+"/config", "", payload, nil)
}

func (c *Client) getJSON(ctx context.Context, path, rawQuery string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, rawQuery, nil, out)
}

// doJSON performs one API call. A 401 drops the session and retries once.
func (c *Client) doJSON(ctx context.Context, method, path, rawQuery string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", ErrAPI, err)
		}
		body = data
	}

	err := c.attempt(ctx, method, path, rawQuery, body, out)
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized {
		c.logger.Info("joule api rejected token; logging in again", zap.String("path", path))
		err = c.attempt(ctx, method, path, rawQuery, body, out)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path, rawQuery string, body []byte, out any) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return classify(err)
	}

	target := c.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrAPI, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.session.Invalidate()
		}
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return ContentTypeError{ContentType: contentType, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrResults, path, err)
	}
	return nil
}

func isEmptyObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	return len(obj) == 0
}
