package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// DefaultMaxImageBytes caps a single downloaded image.
const DefaultMaxImageBytes = 32 << 20

// HTTPSource downloads images over HTTP(S) with retries.
type HTTPSource struct {
	client   *http.Client
	maxBytes int64
	backoff  func(attempt int) time.Duration
}

// HTTPOption configures an HTTPSource
type HTTPOption func(*HTTPSource)

// WithMaxBytes caps the response body size.
func WithMaxBytes(n int64) HTTPOption {
	return func(s *HTTPSource) { s.maxBytes = n }
}

// WithRetryBackoff replaces the linear backoff between attempts.
func WithRetryBackoff(fn func(attempt int) time.Duration) HTTPOption {
	return func(s *HTTPSource) { s.backoff = fn }
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) { s.client.Timeout = d }
}

// NewHTTPSource creates an HTTP image source
func NewHTTPSource(opts ...HTTPOption) *HTTPSource {
	// Connection pooling tuned for one image at a time
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	s := &HTTPSource{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes: DefaultMaxImageBytes,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads imageURL. Network errors and 5xx responses are retried up
// to three attempts in total; 4xx responses fail immediately.
func (h *HTTPSource) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
		req.Header.Set("User-Agent", "VoucherSnap/1.0")

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			data, retry, readErr := h.readResponse(resp)
			if readErr == nil {
				return data, nil
			}
			lastErr = readErr
			// 4xx client errors are non-retryable
			if !retry {
				break
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < 2 {
			logger.WithError(lastErr).WithField("attempt", attempt+1).Debug("Retrying image download")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.backoff(attempt)):
			}
		}
	}

	return nil, fmt.Errorf("failed to fetch image after 3 attempts: %w", lastErr)
}

// readResponse drains and closes resp. retry reports whether a failure is
// worth another attempt.
func (h *HTTPSource) readResponse(resp *http.Response) (data []byte, retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, false, fmt.Errorf("image exceeds %d bytes", h.maxBytes)
	}
	return data, false, nil
}
