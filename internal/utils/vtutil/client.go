// Package vtutil looks up file reputations on VirusTotal.
package vtutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	vt "github.com/VirusTotal/vt-go"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// Default settings
const (
	DefaultRetryCount = 3               // Default number of retries for failed requests
	DefaultRetryDelay = 5 * time.Second // Default delay between retries
)

// ClientConfig holds configuration for the VirusTotal client
type ClientConfig struct {
	APIKey     string        // VirusTotal API key
	RetryCount int           // Number of retries for failed requests
	RetryDelay time.Duration // Delay between retries
	CustomHost string        // Optional custom VirusTotal API host
}

// Client wraps the VirusTotal client with retries and a per-process result cache.
type Client struct {
	vtClient *vt.Client
	config   ClientConfig

	cacheMutex sync.RWMutex
	cache      map[string]*FileReport
}

// WithRetrySettings configures retry behavior
func WithRetrySettings(count int, delay time.Duration) func(*ClientConfig) {
	return func(c *ClientConfig) {
		if count >= 0 {
			c.RetryCount = count
		}
		if delay > 0 {
			c.RetryDelay = delay
		}
	}
}

// WithCustomHost sets a custom API host
func WithCustomHost(host string) func(*ClientConfig) {
	return func(c *ClientConfig) {
		c.CustomHost = host
	}
}

// NewClient creates a client for apiKey.
func NewClient(apiKey string, options ...func(*ClientConfig)) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: VirusTotal API key is required", errors.ErrAPIKeyMissing)
	}

	config := ClientConfig{
		APIKey:     apiKey,
		RetryCount: DefaultRetryCount,
		RetryDelay: DefaultRetryDelay,
	}
	for _, option := range options {
		option(&config)
	}

	if config.CustomHost != "" {
		vt.SetHost(config.CustomHost)
	}

	logger.LogDebug("VirusTotal client initialized", map[string]interface{}{
		"retries": config.RetryCount,
	})

	return &Client{
		vtClient: vt.NewClient(apiKey),
		config:   config,
		cache:    make(map[string]*FileReport),
	}, nil
}

// executeWithRetry runs fn until it succeeds, the retries run out or ctx ends.
// Errors for which retryable returns false stop immediately.
func (c *Client) executeWithRetry(ctx context.Context, operation string, fn func() error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		lastErr = err
		logger.LogWarn("VirusTotal API request failed", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt + 1,
			"attempts":  c.config.RetryCount + 1,
			"error":     err.Error(),
		})

		// Don't sleep after the last attempt
		if attempt < c.config.RetryCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}
	return lastErr
}

func (c *Client) getCachedResult(hash string) (*FileReport, bool) {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()
	report, ok := c.cache[hash]
	return report, ok
}

func (c *Client) cacheResult(hash string, report *FileReport) {
	c.cacheMutex.Lock()
	defer c.cacheMutex.Unlock()
	c.cache[hash] = report
}
