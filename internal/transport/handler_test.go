package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vouchersnap/vouchersnap/internal/config"
	"github.com/vouchersnap/vouchersnap/internal/hasher"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/manifest"
	"github.com/vouchersnap/vouchersnap/internal/observer"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
	"github.com/vouchersnap/vouchersnap/internal/storage"
	"github.com/vouchersnap/vouchersnap/pkg/models"
	"github.com/vouchersnap/vouchersnap/pkg/validation"
)

// widthDecoder reports an observation URL for 64px wide images only.
type widthDecoder struct{}

func (widthDecoder) Decode(img image.Image) ([]scanner.Symbol, error) {
	if img.Bounds().Dx() != 64 {
		return nil, nil
	}
	return []scanner.Symbol{{Type: scanner.SymbolTypeQR, Data: []byte("https://www.inaturalist.org/observations/4242")}}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testServer struct {
	handler http.Handler
	ledger  *ledger.Ledger
	metrics *observer.MetricsObserver
	cfg     *config.Config
}

func newTestServer(t *testing.T, allowLocal bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.AllowLocalPaths = allowLocal

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)

	sc := scanner.NewScanner(widthDecoder{}, scanner.DefaultScanOptions().WithoutVariants().WithWorkers(2), events)
	l := ledger.New(ledger.NewJSONStore(filepath.Join(dir, "history.json")))
	t.Cleanup(func() { l.Close() })

	resolver := storage.NewResolver().
		Register(storage.FileSource{}, "file").
		Register(storage.NewHTTPSource(storage.WithRetryBackoff(func(int) time.Duration { return 0 })), "http", "https")

	h := NewHandler(Dependencies{
		Config:    cfg,
		Scanner:   sc,
		Ledger:    l,
		Assembler: manifest.NewAssembler(sc, l, nil),
		Sources:   resolver,
		Validator: validation.NewURLValidator(),
		Events:    events,
		Metrics:   metrics,
	})
	return &testServer{handler: h, ledger: l, metrics: metrics, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, target, bytes.NewBuffer(data), "application/json")
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", decode[map[string]any](t, rec)["status"])
}

func TestScan_MultipartFlagsDuplicates(t *testing.T) {
	s := newTestServer(t, false)
	data := pngBytes(t, 64, 48)

	body, ct := multipartBody(t, "IMG_1.png", data)
	rec := s.do(t, http.MethodPost, "/api/v1/scan", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[models.ScanResponse](t, rec)
	assert.Equal(t, "IMG_1.png", resp.Source)
	assert.Equal(t, "found", resp.Outcome)
	assert.Equal(t, int64(4242), resp.TargetID)
	assert.Equal(t, "https://www.inaturalist.org/observations/4242", resp.ObservationURL)
	assert.Equal(t, hasher.HashBytes(data), resp.Digest)
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Duplicate)

	_, err := s.ledger.CreateRecord(resp.Digest, 4242, "IMG_1.png")
	require.NoError(t, err)

	body, ct = multipartBody(t, "IMG_1.png", data)
	rec = s.do(t, http.MethodPost, "/api/v1/scan", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[models.ScanResponse](t, rec)
	assert.True(t, resp.Duplicate)
	require.NotNil(t, resp.Prior)
	assert.Equal(t, "IMG_1.png", resp.Prior.Filename)

	snap := s.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.FilesScanned)
	assert.Equal(t, int64(2), snap.IdentifiersRead)
}

func TestScan_NoQR(t *testing.T) {
	s := newTestServer(t, false)
	body, ct := multipartBody(t, "blank.png", pngBytes(t, 32, 32))
	rec := s.do(t, http.MethodPost, "/api/v1/scan", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[models.ScanResponse](t, rec)
	assert.Equal(t, "no_qr", resp.Outcome)
	assert.Equal(t, "No QR code detected", resp.Reason)
	assert.Zero(t, resp.TargetID)
}

func TestScan_RemoteSource(t *testing.T) {
	data := pngBytes(t, 64, 64)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer remote.Close()

	s := newTestServer(t, false)
	rec := s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: remote.URL + "/voucher.png"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "found", decode[models.ScanResponse](t, rec).Outcome)
}

func TestScan_RemoteNotFound(t *testing.T) {
	remote := httptest.NewServer(http.NotFoundHandler())
	defer remote.Close()

	s := newTestServer(t, false)
	rec := s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: remote.URL + "/missing.png"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScan_Validation(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: "ftp://example.com/a.jpg"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.postJSON(t, "/api/v1/scan", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: "/etc/passwd"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decode[models.ErrorResponse](t, rec).Message, "local paths are disabled")
}

func TestScan_LocalPathWhenAllowed(t *testing.T) {
	s := newTestServer(t, true)
	p := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(p, pngBytes(t, 64, 10), 0o644))

	rec := s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: p})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(4242), decode[models.ScanResponse](t, rec).TargetID)

	rec = s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: p + ".missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 64, 20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, 30, 20), 0o644))

	forbidden := newTestServer(t, false)
	rec := forbidden.postJSON(t, "/api/v1/manifest", models.ManifestRequest{Paths: []string{dir}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s := newTestServer(t, true)
	rec = s.postJSON(t, "/api/v1/manifest", models.ManifestRequest{Paths: []string{dir}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Items []struct {
			Filename string `json:"filename"`
			Digest   string `json:"digest"`
		} `json:"items"`
		Failed []struct {
			Filename string `json:"filename"`
		} `json:"failed"`
		Stats manifest.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "a.png", body.Items[0].Filename)
	assert.NotEmpty(t, body.Items[0].Digest)
	require.Len(t, body.Failed, 1)
	assert.Equal(t, "b.png", body.Failed[0].Filename)
	assert.Equal(t, 2, body.Stats.Scanned)
	assert.Equal(t, 1, body.Stats.NoQR)

	rec = s.postJSON(t, "/api/v1/manifest", models.ManifestRequest{Paths: []string{filepath.Join(dir, "none", "*.jpg")}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	for _, id := range []int64{10, 20, 10} {
		_, err := s.ledger.CreateRecord("digest-a", id, "a.jpg", ledger.WithCaption("voucher"))
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/history?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[models.HistoryResponse](t, rec)
	assert.Len(t, hist.Records, 2)
	assert.Equal(t, 3, hist.Total)

	rec = s.do(t, http.MethodGet, "/api/v1/history?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/history/groups", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]models.TargetGroupResponse](t, rec)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(10), groups[0].ObservationID)
	assert.Len(t, groups[0].Records, 2)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = s.do(t, http.MethodGet, "/api/v1/history/groups?since="+future, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.TargetGroupResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/history/groups?until=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/history/duplicate?digest=digest-a&target=20", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decode[models.DuplicateResponse](t, rec)
	assert.True(t, dup.Duplicate)
	require.NotNil(t, dup.Prior)
	assert.Equal(t, int64(20), dup.Prior.ObservationID)

	rec = s.do(t, http.MethodGet, "/api/v1/history/duplicate?digest=digest-a&target=30", nil, "")
	assert.False(t, decode[models.DuplicateResponse](t, rec).Duplicate)

	rec = s.do(t, http.MethodGet, "/api/v1/history/duplicate?digest=digest-a", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/observations/10/uploads", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	uploads := decode[models.TargetGroupResponse](t, rec)
	assert.Len(t, uploads.Records, 2)
	assert.Equal(t, "https://www.inaturalist.org/observations/10", uploads.ObservationURL)

	rec = s.do(t, http.MethodGet, "/api/v1/observations/abc/uploads", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, false)
	s.metrics.OnEvent(context.Background(), observer.ScanEvent{EventType: observer.UploadRecorded})

	rec := s.do(t, http.MethodGet, "/api/v1/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"history_records":0`)
	assert.Contains(t, body, `"uploads":1`)
	assert.False(t, strings.Contains(body, "history_degraded"))
}

func TestRequestSizeLimit(t *testing.T) {
	s := newTestServer(t, false)
	s.cfg.MaxRequestBodySize = 16
	s.handler = NewHandler(Dependencies{Config: s.cfg, Ledger: s.ledger, Validator: validation.NewURLValidator()})

	rec := s.postJSON(t, "/api/v1/scan", models.ScanRequest{Source: "https://example.com/a-very-long-path/voucher.jpg"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
