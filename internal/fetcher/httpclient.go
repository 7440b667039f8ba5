package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"marketcollector/internal/ratelimit"
)

const (
	// Default retry configuration
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultTimeout    = 30 * time.Second

	// DefaultBaseURL is the EODHD host; endpoint paths carry the /api prefix
	DefaultBaseURL = "https://eodhd.com"
)

// ClientConfig holds everything needed to build a Client
type ClientConfig struct {
	BaseURL  string
	APIToken string

	// MaxRetries is the total number of attempts per request. Zero still
	// attempts once.
	MaxRetries int
	// BaseDelay is the sleep after the first failed attempt; it doubles on
	// every further attempt.
	BaseDelay time.Duration
	Timeout   time.Duration

	Limiter *ratelimit.Limiter
	Logger  logrus.FieldLogger
}

// Client issues authenticated GET requests against the provider, classifies
// failures and retries transient ones with exponential backoff.
// It is safe for concurrent use; the underlying connection pool is shared.
type Client struct {
	http       *resty.Client
	token      string
	maxRetries int
	baseDelay  time.Duration
	limiter    *ratelimit.Limiter
	logger     logrus.FieldLogger
}

// NewClient creates a new provider client. Callers must Close it.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	// resty's own retry is left disabled; the loop in Get owns the policy.
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{
		http:       client,
		token:      cfg.APIToken,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}
}

// Close releases idle connections held by the client
func (c *Client) Close() error {
	return c.http.Close()
}

// Get requests path with params and decodes the JSON body into out.
//
// ServerError, rate limit and connection failures are retried up to the
// configured number of attempts, sleeping BaseDelay*2^n after attempt n.
// Client and decode errors fail on the first attempt. When every attempt
// failed with a retryable error a *RetriesExhaustedError is returned.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	query := make(url.Values, len(params)+2)
	for k, vs := range params {
		query[k] = append([]string(nil), vs...)
	}
	query.Set("api_token", c.token)
	query.Set("fmt", "json")

	bucket := ratelimit.APIEODHD
	if strings.HasPrefix(path, "/api/fundamentals/") {
		bucket = ratelimit.APIFundamentals
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := c.attempt(ctx, bucket, path, query, out, attempts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempts,
			"wait":    wait,
		}).WithError(err).Warn("retrying request")
	}

	err := backoff.RetryNotify(operation, c.schedule(ctx), notify)
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return &RetriesExhaustedError{Attempts: attempts, Last: err}
	}
	return err
}

// schedule builds the backoff policy for one request
func (c *Client) schedule(ctx context.Context) backoff.BackOffContext {
	retries := c.maxRetries - 1
	if retries < 0 {
		retries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.baseDelay << uint(retries)
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// attempt performs a single request and classifies its failure
func (c *Client) attempt(ctx context.Context, bucket ratelimit.API, path string, query url.Values, out any, n int) error {
	if c.limiter != nil && !c.limiter.Allow(bucket) {
		c.logger.WithFields(logrus.Fields{"path": path, "bucket": bucket}).Debug("rate limited, waiting for a token")
		if err := c.limiter.Wait(ctx, bucket); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	started := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetDoNotParseResponse(true).
		Get(path)

	entry := c.logger.WithFields(logrus.Fields{
		"path":    path,
		"attempt": n,
		"elapsed": time.Since(started),
	})

	if err != nil {
		entry.WithError(err).Debug("request attempt failed")
		return NewConnectionError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		entry.WithError(err).Debug("reading response body failed")
		return NewConnectionError(path, err)
	}

	entry = entry.WithField("status_code", resp.StatusCode())
	if !resp.IsSuccess() {
		entry.Debug("request attempt rejected")
		return ClassifyStatus(path, resp.StatusCode(), string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		entry.WithError(err).Debug("response decode failed")
		return NewDecodeError(path, err)
	}

	entry.Debug("request attempt succeeded")
	return nil
}
