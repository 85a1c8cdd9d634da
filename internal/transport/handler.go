package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vouchersnap/vouchersnap/internal/config"
	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
	"github.com/vouchersnap/vouchersnap/internal/hasher"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/manifest"
	"github.com/vouchersnap/vouchersnap/internal/observer"
	"github.com/vouchersnap/vouchersnap/internal/paths"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
	"github.com/vouchersnap/vouchersnap/internal/storage"
	"github.com/vouchersnap/vouchersnap/pkg/models"
	"github.com/vouchersnap/vouchersnap/pkg/validation"
)

const defaultHistoryLimit = 20

// Dependencies are the services exposed over HTTP.
type Dependencies struct {
	Config    *config.Config
	Scanner   *scanner.Scanner
	Ledger    *ledger.Ledger
	Assembler *manifest.Assembler
	Sources   storage.Source
	Validator *validation.URLValidator
	Events    observer.Subject
	Metrics   *observer.MetricsObserver
}

type handler struct {
	Dependencies
}

func NewHandler(deps Dependencies) http.Handler {
	h := &handler{Dependencies: deps}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(deps.Config.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		api.POST("/scan", h.scan)
		api.POST("/manifest", h.buildManifest)
		api.GET("/history", h.history)
		api.GET("/history/groups", h.historyGroups)
		api.GET("/history/duplicate", h.duplicate)
		api.GET("/observations/:id/uploads", h.observationUploads)
		api.GET("/metrics", h.metrics)
	}

	return r
}

func (h *handler) scan(c *gin.Context) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Config.RequestTimeout)
	defer cancel()

	source, data, err := h.readScanInput(ctx, c)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "cannot read image", err)
		return
	}

	res := h.Scanner.ScanBytes(data)
	digest := hasher.HashBytes(data)
	resp := models.ScanResponse{
		Source:       source,
		Outcome:      res.Outcome.Kind.String(),
		Attempts:     res.Attempts,
		Variant:      res.Variant,
		Digest:       digest,
		ProcessingMs: time.Since(startTime).Milliseconds(),
	}
	if res.Outcome.Found() {
		resp.TargetID = res.Outcome.TargetID
		resp.ObservationURL = scanner.ObservationURL(res.Outcome.TargetID)
		if prior, ok := h.Ledger.FindDuplicate(digest, res.Outcome.TargetID); ok {
			resp.Duplicate = true
			resp.Prior = &prior
		}
	} else {
		resp.Reason = res.Outcome.Reason()
	}

	h.publishScan(ctx, source, res, time.Since(startTime))

	logger.WithFields(logrus.Fields{
		"source":             source,
		"outcome":            resp.Outcome,
		"attempts":           resp.Attempts,
		"processing_time_ms": resp.ProcessingMs,
	}).Info("Scan completed")

	c.JSON(http.StatusOK, resp)
}

// readScanInput accepts either a multipart "file" upload or a JSON body
// naming a source reference.
func (h *handler) readScanInput(ctx context.Context, c *gin.Context) (string, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return "", nil, apperrors.NewValidationError("multipart field \"file\" is required", err)
		}
		f, err := fh.Open()
		if err != nil {
			return "", nil, apperrors.NewValidationError("cannot open upload", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, apperrors.NewValidationError("cannot read upload", err)
		}
		return fh.Filename, data, nil
	}

	var req models.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", nil, apperrors.NewValidationError("invalid request format", err)
	}
	if err := h.checkSource(req.Source); err != nil {
		return req.Source, nil, err
	}

	logger.WithField("source", req.Source).Debug("Fetching image")

	fetchCtx, cancel := context.WithTimeout(ctx, h.Config.FetchTimeout)
	defer cancel()
	data, err := h.Sources.Fetch(fetchCtx, req.Source)
	if err != nil {
		var appErr *apperrors.AppError
		switch {
		case errors.As(err, &appErr):
			return req.Source, nil, err
		case errors.Is(err, context.DeadlineExceeded):
			return req.Source, nil, apperrors.NewTimeoutError("Image fetch timeout", err)
		default:
			return req.Source, nil, apperrors.NewNetworkError("Failed to fetch image", err)
		}
	}
	return req.Source, data, nil
}

func (h *handler) checkSource(ref string) error {
	if storage.SchemeOf(ref) == "file" {
		if !h.Config.AllowLocalPaths {
			return apperrors.NewForbiddenError("local paths are disabled on this server", nil)
		}
		return nil
	}
	return h.Validator.ValidateSource(ref)
}

func (h *handler) publishScan(ctx context.Context, source string, res scanner.Result, d time.Duration) {
	if h.Events == nil {
		return
	}
	event := observer.ScanEvent{
		EventType: observer.ScanCompleted,
		Path:      source,
		Total:     1,
		Outcome:   res.Outcome.Kind.String(),
		TargetID:  res.Outcome.TargetID,
		Attempts:  res.Attempts,
		Duration:  d,
	}
	if res.Outcome.Failed() {
		event.EventType = observer.ScanFailed
		event.ErrorMessage = res.Outcome.Reason()
	}
	h.Events.NotifyObservers(ctx, event)
}

func (h *handler) buildManifest(c *gin.Context) {
	if !h.Config.AllowLocalPaths {
		err := apperrors.NewForbiddenError("local paths are disabled on this server", nil)
		respondError(c, err.StatusCode, "manifest unavailable", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Config.RequestTimeout)
	defer cancel()

	var req models.ManifestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	files, err := paths.Resolve(req.Paths)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid paths", err)
		return
	}
	if len(files) == 0 {
		respondError(c, http.StatusNotFound, "no supported image files found", errors.New(strings.Join(scanner.SupportedExtensions(), ", ")))
		return
	}

	m, err := h.Assembler.Build(ctx, files)
	if err != nil {
		respondError(c, http.StatusGatewayTimeout, "manifest build interrupted", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  m.Candidates(req.SkipDuplicates),
		"failed": m.Failed,
		"stats":  m.Stats(),
	})
}

func (h *handler) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "invalid limit", fmt.Errorf("limit must be a non-negative integer, got %q", raw))
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, models.HistoryResponse{
		Records: nonNil(h.Ledger.ListHistory(limit)),
		Total:   h.Ledger.Count(),
	})
}

func (h *handler) historyGroups(c *gin.Context) {
	since, err := parseTimeQuery(c, "since")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid since", err)
		return
	}
	until, err := parseTimeQuery(c, "until")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid until", err)
		return
	}

	groups := h.Ledger.GroupByTarget(since, until)
	out := make([]models.TargetGroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.TargetGroupResponse{
			ObservationID:  g.ObservationID,
			ObservationURL: scanner.ObservationURL(g.ObservationID),
			Records:        g.Records,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) duplicate(c *gin.Context) {
	digest := c.Query("digest")
	target, err := strconv.ParseInt(c.Query("target"), 10, 64)
	if digest == "" || err != nil || target <= 0 {
		respondError(c, http.StatusBadRequest, "invalid query", errors.New("digest and a positive target are required"))
		return
	}

	resp := models.DuplicateResponse{}
	if prior, ok := h.Ledger.FindDuplicate(digest, target); ok {
		resp.Duplicate = true
		resp.Prior = &prior
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) observationUploads(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "invalid observation id", fmt.Errorf("%q is not a positive integer", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, models.TargetGroupResponse{
		ObservationID:  id,
		ObservationURL: scanner.ObservationURL(id),
		Records:        nonNil(h.Ledger.UploadsForTarget(id)),
	})
}

func (h *handler) metrics(c *gin.Context) {
	body := gin.H{"history_records": h.Ledger.Count()}
	if h.Metrics != nil {
		body["scans"] = h.Metrics.Snapshot()
	}
	if err := h.Ledger.Degraded(); err != nil {
		body["history_degraded"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNil(records []ledger.UploadRecord) []ledger.UploadRecord {
	if records == nil {
		return []ledger.UploadRecord{}
	}
	return records
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
