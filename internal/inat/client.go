package inat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

const userAgent = "VoucherSnap/1.0"

var (
	// ErrNotAuthenticated is returned by uploads without a usable token
	ErrNotAuthenticated = errors.New("not authenticated, please log in first")

	// ErrObservationNotFound is returned when the API has no such observation
	ErrObservationNotFound = errors.New("observation not found")
)

// Client is the remote observation service.
type Client interface {
	FetchObservation(ctx context.Context, id int64) (*Observation, error)
	UploadPhoto(ctx context.Context, observationID int64, filename string, data []byte) (int64, error)
}

// HTTPClient talks to the iNaturalist v1 API.
type HTTPClient struct {
	baseURL  string
	token    *Token
	client   *http.Client
	attempts int
	backoff  func(attempt int) time.Duration
	now      func() time.Time
}

// ClientOption configures an HTTPClient
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithBackoff replaces the linear one-second-per-attempt retry delay.
func WithBackoff(fn func(attempt int) time.Duration) ClientOption {
	return func(h *HTTPClient) { h.backoff = fn }
}

// WithToken sets the access token used for uploads.
func WithToken(t *Token) ClientOption {
	return func(h *HTTPClient) { h.token = t }
}

// NewHTTPClient builds a client for baseURL, e.g. https://api.inaturalist.org/v1.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
		attempts: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticated reports whether a non-expired token is set.
func (c *HTTPClient) Authenticated() bool {
	return c.token != nil && c.token.AccessToken != "" && !c.token.Expired(c.now())
}

// FetchObservation loads taxon, observer and place details for id.
func (c *HTTPClient) FetchObservation(ctx context.Context, id int64) (*Observation, error) {
	url := c.baseURL + "/observations/" + strconv.FormatInt(id, 10)
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("observation %d: %w", id, ErrObservationNotFound)
		}
		return nil, fmt.Errorf("failed to fetch observation %d: %w", id, err)
	}
	defer resp.Body.Close()

	var body observationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode observation %d: %w", id, err)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("observation %d: %w", id, ErrObservationNotFound)
	}

	r := body.Results[0]
	obs := &Observation{
		ID:         id,
		ObservedOn: r.ObservedOnString,
		PlaceGuess: r.PlaceGuess,
		URL:        observationURL(id),
	}
	if r.Taxon != nil {
		obs.TaxonName = r.Taxon.Name
		obs.CommonName = r.Taxon.PreferredCommonName
	}
	if r.User != nil {
		obs.ObserverLogin = r.User.Login
	}
	return obs, nil
}

// FetchObservations fetches each id, skipping ones that fail.
func (c *HTTPClient) FetchObservations(ctx context.Context, ids []int64) map[int64]*Observation {
	out := make(map[int64]*Observation, len(ids))
	for _, id := range ids {
		obs, err := c.FetchObservation(ctx, id)
		if err != nil {
			logger.WithError(err).WithField("observation_id", id).Warn("Skipping observation")
			continue
		}
		out[id] = obs
	}
	return out
}

// UploadPhoto attaches a JPEG to an observation and returns the new photo id.
func (c *HTTPClient) UploadPhoto(ctx context.Context, observationID int64, filename string, data []byte) (int64, error) {
	if !c.Authenticated() {
		return 0, ErrNotAuthenticated
	}

	url := c.baseURL + "/observation_photos"
	resp, err := c.do(ctx, func() (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("observation_photo[observation_id]", strconv.FormatInt(observationID, 10)); err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)
		return req, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusUnauthorized {
			return 0, fmt.Errorf("upload to observation %d: %w", observationID, ErrNotAuthenticated)
		}
		return 0, fmt.Errorf("failed to upload photo to observation %d: %w", observationID, err)
	}
	defer resp.Body.Close()

	var photo photoResponse
	if err := json.NewDecoder(resp.Body).Decode(&photo); err != nil {
		return 0, fmt.Errorf("decode upload response: %w", err)
	}
	if photo.ID == 0 {
		return 0, fmt.Errorf("upload succeeded but no photo id returned")
	}

	logger.WithFields(logrus.Fields{
		"observation_id": observationID,
		"photo_id":       photo.ID,
		"filename":       filename,
	}).Info("Photo uploaded")
	return photo.ID, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	if e.code >= 500 {
		return fmt.Sprintf("server error: status code %d", e.code)
	}
	return fmt.Sprintf("client error: status code %d", e.code)
}

// do sends the request built by newReq, retrying network errors and 5xx
// responses. 4xx responses are returned immediately. On success the caller
// owns the response body.
func (c *HTTPClient) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = &statusError{code: resp.StatusCode}
			// 4xx client errors are non-retryable
			if resp.StatusCode < 500 {
				return nil, lastErr
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.attempts-1 {
			logger.WithError(lastErr).WithField("attempt", attempt+1).Debug("Retrying iNaturalist request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.attempts, lastErr)
}
