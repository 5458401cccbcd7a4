package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"policycrawl/pkg/classify"
	"policycrawl/pkg/config"
	"policycrawl/pkg/crawl"
	"policycrawl/pkg/fetch"
	"policycrawl/pkg/files"
	"policycrawl/pkg/metrics"
	"policycrawl/pkg/models"
	"policycrawl/pkg/registry"
	"policycrawl/pkg/sitemap"
	"policycrawl/pkg/storage"
)

var fakePDF = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("api test filler bytes\n"), 2600)...)

type apiEnv struct {
	api   *httptest.Server
	store storage.Store
	reg   *registry.Registry
}

func newAPIEnv(t *testing.T, capacity int) *apiEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	cfg := &config.AppConfig{
		UserAgent:               "PolicyCrawl-Test/1.0",
		NumWorkers:              3,
		MaxRequests:             10,
		MaxRequestsPerHost:      4,
		MaxRetries:              0,
		InitialRetryDelay:       10 * time.Millisecond,
		MaxRetryDelay:           50 * time.Millisecond,
		SemaphoreAcquireTimeout: 5 * time.Second,
		MaxConcurrentCrawls:     capacity,
		Crawl: config.CrawlLimits{
			DefaultMaxPages:    50,
			MaxPagesCeiling:    500,
			DefaultMaxDuration: time.Minute,
			MaxDurationCeiling: 5 * time.Minute,
			MaxPageSizeBytes:   1 << 20,
			MaxFileSizeBytes:   1 << 20,
			DownloadTimeout:    10 * time.Second,
			HeadProbesPerPage:  25,
		},
	}

	store, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "db"), entry)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fileStore, err := files.NewStore(t.TempDir(), cfg.Crawl.MaxFileSizeBytes, logger)
	require.NoError(t, err)

	fetcher := fetch.NewFetcher(&http.Client{}, cfg, logger)
	rateLimiter := fetch.NewRateLimiter(0, entry)
	discoverer := sitemap.NewDiscoverer(fetcher, logger)
	robots := fetch.NewRobotsHandler(fetcher, rateLimiter,
		semaphore.NewWeighted(int64(cfg.MaxRequests)), discoverer, cfg, entry)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := registry.New(capacity, m, logger)
	t.Cleanup(reg.StopAll)

	deps := crawl.Deps{
		Store:       store,
		Files:       fileStore,
		Fetcher:     fetcher,
		Robots:      robots,
		RateLimiter: rateLimiter,
		Hosts:       fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, entry),
		Sitemaps:    discoverer,
		Classifier:  classify.NewClassifier(0.85),
		Metrics:     m,
		Cfg:         cfg,
		Log:         logger,
	}

	server := NewServer(cfg, deps, reg, promReg, logger)
	api := httptest.NewServer(server.Router())
	t.Cleanup(api.Close)

	return &apiEnv{api: api, store: store, reg: reg}
}

// newDocSite serves one page linking one PDF
func newDocSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/motor-pds.pdf">Product Disclosure Statement</a>`)
	})
	mux.HandleFunc("/motor-pds.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(fakePDF)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// newSlowSite serves pages that take long enough to observe a running crawl
func newSlowSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		var links string
		for i := 0; i < 10; i++ {
			links += fmt.Sprintf(`<a href="%sx%d/">page</a>`, r.URL.Path, i)
		}
		fmt.Fprint(w, links)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (e *apiEnv) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, e.api.URL + path, reader)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "tester")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *apiEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.api.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *apiEnv) getAs(t *testing.T, path, owner string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.api.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", owner)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *apiEnv) delete(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.api.URL + path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return decoded
}

func (e *apiEnv) startCrawl(t *testing.T, seeds ...string) string {
	t.Helper()
	resp, body := e.post(t, "/api/crawl", CrawlRequest{SeedURLs: seeds})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "body: %v", body)
	id, ok := body["session_id"].(string)
	require.True(t, ok)
	return id
}

func (e *apiEnv) waitTerminal(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := e.get(t, "/api/crawl/" + sessionID + "/status")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		switch models.SessionStatus(body["status"].(string)) {
		case models.SessionStatusCompleted, models.SessionStatusFailed, models.SessionStatusStopped:
			return body
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

func TestStartCrawl_Validation(t *testing.T) {
	env := newAPIEnv(t, 2)

	resp, _ := env.post(t, "/api/crawl", CrawlRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty seed list")

	resp, _ = env.post(t, "/api/crawl", CrawlRequest{SeedURLs: []string{"ftp://example.com"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "non-http scheme")

	resp, _ = env.post(t, "/api/crawl", CrawlRequest{SeedURLs: []string{"not a url"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.api.URL + "/api/crawl", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode, "malformed JSON")
}

func TestCrawlLifecycle(t *testing.T) {
	env := newAPIEnv(t, 2)
	site := newDocSite(t)

	id := env.startCrawl(t, site.URL)
	status := env.waitTerminal(t, id)

	assert.Equal(t, string(models.SessionStatusCompleted), status["status"])
	assert.Equal(t, float64(100), status["progress_pct"])
	assert.Equal(t, float64(1), status["pdfs_downloaded"])
	assert.Equal(t, "tester", status["owner_id"])

	resp, results := env.get(t, "/api/crawl/" + id + "/results")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), results["count"])

	resp, logs := env.get(t, "/api/crawl/" + id + "/logs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := logs["logs"].([]interface{})
	assert.NotEmpty(t, entries)
	lastSeq := int(logs["last_seq"].(float64))
	assert.Equal(t, len(entries), lastSeq, "sequence numbers are gap-free from 1")

	// Incremental read picks up only what is new
	resp, tail := env.get(t, fmt.Sprintf("/api/crawl/%s/logs?since=%d", id, lastSeq-1))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tail["logs"].([]interface{}), 1)

	resp, listing := env.get(t, "/api/crawl/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), listing["total"])

	resp, deleted := env.delete(t, "/api/crawl/" + id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), deleted["documents_deleted"])

	resp, _ = env.get(t, "/api/crawl/" + id + "/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownSession_Returns404(t *testing.T) {
	env := newAPIEnv(t, 1)

	for _, path := range []string{
		"/api/crawl/nope/status",
		"/api/crawl/nope/logs",
		"/api/crawl/nope/results",
	} {
		resp, _ := env.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, _ := env.post(t, "/api/crawl/nope/stop", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deletes are idempotent: an unknown session deletes zero records.
	resp, body := env.delete(t, "/api/crawl/nope")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["documents_deleted"])
	assert.Equal(t, float64(0), body["logs_deleted"])
}

func TestCapacityLimit_Returns429(t *testing.T) {
	env := newAPIEnv(t, 1)
	slow := newSlowSite(t)

	id := env.startCrawl(t, slow.URL)

	resp, _ := env.post(t, "/api/crawl", CrawlRequest{SeedURLs: []string{slow.URL}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A rejected start leaves no session record behind
	resp, listing := env.get(t, "/api/crawl/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), listing["total"])

	resp, _ = env.post(t, "/api/crawl/" + id + "/stop", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := env.waitTerminal(t, id)
	assert.Equal(t, string(models.SessionStatusStopped), status["status"])
}

func TestDeleteRunningSession_Returns409(t *testing.T) {
	env := newAPIEnv(t, 1)
	slow := newSlowSite(t)

	id := env.startCrawl(t, slow.URL)

	resp, _ := env.delete(t, "/api/crawl/" + id)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.post(t, "/api/crawl/" + id + "/stop", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitTerminal(t, id)

	resp, _ = env.delete(t, "/api/crawl/" + id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStopFinishedSession_Returns409(t *testing.T) {
	env := newAPIEnv(t, 1)
	site := newDocSite(t)

	id := env.startCrawl(t, site.URL)
	env.waitTerminal(t, id)

	resp, _ := env.post(t, "/api/crawl/" + id + "/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListSessions_Pagination(t *testing.T) {
	env := newAPIEnv(t, 3)
	site := newDocSite(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id := env.startCrawl(t, site.URL)
		env.waitTerminal(t, id)
		ids = append(ids, id)
	}

	resp, body := env.get(t, "/api/crawl/sessions?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])
	assert.Len(t, body["sessions"].([]interface{}), 2)

	resp, body = env.get(t, "/api/crawl/sessions?limit=2&offset=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sessions"].([]interface{}), 1)

	resp, _ = env.get(t, "/api/crawl/sessions?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSessions_OwnerScoped(t *testing.T) {
	env := newAPIEnv(t, 2)
	site := newDocSite(t)

	id := env.startCrawl(t, site.URL)
	env.waitTerminal(t, id)

	other := &models.CrawlSession{
		ID:        uuid.NewString(),
		OwnerID:   "someone-else",
		SeedURLs:  []string{site.URL},
		Status:    models.SessionStatusCompleted,
		Phase:     models.PhaseComplete,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.SaveSession(other))

	resp, listing := env.getAs(t, "/api/crawl/sessions", "tester")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), listing["total"])
	sessions := listing["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].(map[string]interface{})["id"])

	// No authenticated caller means no scoping
	resp, listing = env.get(t, "/api/crawl/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), listing["total"])
}

func TestSystemHealth(t *testing.T) {
	env := newAPIEnv(t, 1)

	resp, body := env.get(t, "/api/system/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "healthy", body["storage"])
}

func TestSystemReset(t *testing.T) {
	env := newAPIEnv(t, 2)
	site := newDocSite(t)

	first := env.startCrawl(t, site.URL)
	env.waitTerminal(t, first)
	second := env.startCrawl(t, site.URL)
	env.waitTerminal(t, second)

	resp, body := env.delete(t, "/api/system/reset")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sessions_deleted"])
	assert.Equal(t, float64(2), body["documents_deleted"])

	resp, listing := env.get(t, "/api/crawl/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), listing["total"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, 1)
	site := newDocSite(t)

	id := env.startCrawl(t, site.URL)
	env.waitTerminal(t, id)

	resp, err := http.Get(env.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "policycrawl_pages_scanned_total")
}
