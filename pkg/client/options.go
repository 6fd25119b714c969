package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	httpClient *http.Client
	apiKey     string

	pollInitial    time.Duration
	pollMax        time.Duration
	pollMultiplier float64

	logger *zap.Logger
}

func defaultConfig() clientConfig {
	return clientConfig{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		pollInitial:    500 * time.Millisecond,
		pollMax:        5 * time.Second,
		pollMultiplier: 2,
		logger:         zap.NewNop(),
	}
}

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *clientConfig) {
		c.httpClient = hc
	})
}

// WithAPIKey sends the key as a Bearer token.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = key
	})
}

// WithPollBackoff sets the Wait schedule: the first delay, the cap and the
// growth factor. Defaults: 500ms, 5s, 2.
func WithPollBackoff(initial, maxDelay time.Duration, multiplier float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.pollInitial = initial
		c.pollMax = maxDelay
		c.pollMultiplier = multiplier
	})
}

// WithLogger logs poll attempts at debug level. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	})
}
