package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"funding-carry-bot/internal/gateway"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is a REST client for the spot and USD-M futures APIs. Signed
// requests carry timestamp, recvWindow and an HMAC-SHA256 signature over the
// encoded query.
type Client struct {
	spotURL    string
	futuresURL string
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	http       *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	log        *zap.Logger
}

type ClientConfig struct {
	SpotURL        string
	FuturesURL     string
	APIKey         string
	APISecret      string
	RecvWindow     time.Duration
	Timeout        time.Duration
	RequestsPerSec float64
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		if b := int(cfg.RequestsPerSec); b > 1 {
			burst = b
		}
	}
	return &Client{
		spotURL:    strings.TrimRight(cfg.SpotURL, "/"),
		futuresURL: strings.TrimRight(cfg.FuturesURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		log:     log,
	}
}

// APIError is a non-2xx response. Unwrap exposes the classified gateway error
// when the venue code maps to one.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	return classify(e.Code, e.Msg)
}

func classify(code int, msg string) error {
	switch code {
	case -2010, -2019:
		return gateway.ErrInsufficientFunds
	case -1013, -1111, -1100, -4164:
		return gateway.ErrInvalidOrder
	case -2022:
		return gateway.ErrInsufficientPosition
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "insufficient") && strings.Contains(lower, "position") {
		return gateway.ErrInsufficientPosition
	}
	return nil
}

func (c *Client) spot(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	return c.do(ctx, method, c.spotURL+path, params, signed, out)
}

func (c *Client) futures(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	return c.do(ctx, method, c.futuresURL+path, params, signed, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		if c.apiKey == "" || c.apiSecret == "" {
			return errors.New("api credentials are required for signed requests")
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + sign(c.apiSecret, query)
	}
	if query != "" {
		endpoint += "?" + query
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Code != 0 {
			apiErr.Code = payload.Code
			apiErr.Msg = payload.Msg
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
