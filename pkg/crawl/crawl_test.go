package crawl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"policycrawl/pkg/classify"
	"policycrawl/pkg/config"
	"policycrawl/pkg/fetch"
	"policycrawl/pkg/files"
	"policycrawl/pkg/metrics"
	"policycrawl/pkg/models"
	"policycrawl/pkg/sitemap"
	"policycrawl/pkg/storage"
)

// fakePDF is large enough to dodge the small-file confidence dampening
var fakePDF = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("policycrawl test filler\n"), 2600)...)

func testCrawlConfig() *config.AppConfig {
	return &config.AppConfig{
		UserAgent:               "PolicyCrawl-Test/1.0",
		NumWorkers:              3,
		MaxRequests:             10,
		MaxRequestsPerHost:      4,
		MaxRetries:              0,
		InitialRetryDelay:       10 * time.Millisecond,
		MaxRetryDelay:           50 * time.Millisecond,
		SemaphoreAcquireTimeout: 5 * time.Second,
		Crawl: config.CrawlLimits{
			MaxPageSizeBytes:  1 << 20,
			MaxFileSizeBytes:  1 << 20,
			DownloadTimeout:   10 * time.Second,
			HeadProbesPerPage: 25,
		},
	}
}

type testEnv struct {
	deps  Deps
	store storage.Store
	files *files.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	cfg := testCrawlConfig()

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

	return &testEnv{
		deps: Deps{
			Store:       store,
			Files:       fileStore,
			Fetcher:     fetcher,
			Robots:      robots,
			RateLimiter: rateLimiter,
			Hosts:       fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, entry),
			Sitemaps:    discoverer,
			Classifier:  classify.NewClassifier(0.85),
			Metrics:     metrics.New(prometheus.NewRegistry()),
			Cfg:         cfg,
			Log:         logger,
		},
		store: store,
		files: fileStore,
	}
}

func newSession(seeds []string, maxPages int) *models.CrawlSession {
	return &models.CrawlSession{
		ID:          uuid.NewString(),
		OwnerID:     "tester",
		Country:     "AU",
		SeedURLs:    seeds,
		MaxPages:    maxPages,
		MaxDuration: 30 * time.Second,
		Status:      models.SessionStatusPending,
		Phase:       models.PhaseQueued,
		CreatedAt:   time.Now().UTC(),
	}
}

func servePDF(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(body)
}

func servePage(w http.ResponseWriter, html string) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, html)
}

// newPolicySite serves a small three-page site with two PDFs
func newPolicySite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		servePage(w, `<html><body>
			<a href="/motor">Motor insurance</a>
			<a href="/home">Home insurance</a>
		</body></html>`)
	})
	mux.HandleFunc("/motor", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `<a href="/docs/motor-pds.pdf">Product Disclosure Statement</a>`)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `<a href="/docs/brochure.pdf">Brochure</a>`)
	})
	mux.HandleFunc("/docs/motor-pds.pdf", func(w http.ResponseWriter, r *http.Request) {
		servePDF(w, fakePDF)
	})
	mux.HandleFunc("/docs/brochure.pdf", func(w http.ResponseWriter, r *http.Request) {
		servePDF(w, append(fakePDF, []byte("brochure variant")...))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// deadServer returns a URL whose port refuses connections
func deadServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func TestRun_CrawlsSiteAndDownloadsPDFs(t *testing.T) {
	env := newTestEnv(t)
	site := newPolicySite(t)
	dead := deadServer(t)

	sess := newSession([]string{site.URL, dead}, 20)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.Equal(t, models.PhaseComplete, snap.Phase)
	assert.Equal(t, 100, snap.ProgressPct)
	assert.Equal(t, 3, snap.PagesScanned, "root, motor and home pages")
	assert.Equal(t, 2, snap.PDFsFound)
	assert.Equal(t, 2, snap.PDFsDownloaded)
	assert.GreaterOrEqual(t, snap.ErrorsCount, 1, "unreachable seed must be counted")
	assert.False(t, snap.EndedAt.IsZero())

	// Terminal state must be persisted, not just published
	stored, err := env.store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)

	docs, err := env.store.ListDocuments(sess.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byStatus := map[models.DocumentStatus]int{}
	for _, doc := range docs {
		byStatus[doc.Status]++
		assert.Equal(t, sess.ID, doc.SessionID)
		assert.Equal(t, "AU", doc.Country)
		assert.NotEmpty(t, doc.FileHash)
		assert.Greater(t, doc.FileSize, int64(0))

		f, err := env.files.Open(sess.ID, doc.ID)
		require.NoError(t, err, "document file must exist on disk")
		f.Close()
	}
	assert.Equal(t, 1, byStatus[models.DocumentStatusValidated], "the PDS should validate")
	assert.Equal(t, 1, byStatus[models.DocumentStatusPending], "the brochure needs review")

	logs, err := env.store.GetLogs(sess.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "Crawl started")
}

func TestRun_RespectsMaxPages(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Every page links to twenty more
		var links string
		for i := 0; i < 20; i++ {
			links += fmt.Sprintf(`<a href="%sx%d/">page</a>`, r.URL.Path, i)
		}
		servePage(w, links)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 5)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.LessOrEqual(t, snap.PagesScanned, 5)
	assert.Equal(t, 100, snap.ProgressPct)
}

func TestRun_StopMidCrawl(t *testing.T) {
	env := newTestEnv(t)

	served := make(chan struct{}, 100)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		served <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		var links string
		for i := 0; i < 10; i++ {
			links += fmt.Sprintf(`<a href="%sx%d/">page</a>`, r.URL.Path, i)
		}
		servePage(w, links)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 100)
	require.NoError(t, env.store.SaveSession(sess))

	ctx, cancel := context.WithCancel(context.Background())
	ctrl := New(env.deps, sess)

	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	<-served // let at least one page start
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not stop after cancellation")
	}

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusStopped, snap.Status)
	assert.Equal(t, models.PhaseStopped, snap.Phase)
	assert.LessOrEqual(t, snap.ProgressPct, 100)
	assert.False(t, snap.EndedAt.IsZero())
}

func TestRun_FailsWhenNoSeedReachable(t *testing.T) {
	env := newTestEnv(t)
	dead := deadServer(t)

	sess := newSession([]string{dead}, 10)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusFailed, snap.Status)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, 0, snap.PagesScanned)
	assert.GreaterOrEqual(t, snap.ErrorsCount, 1)
}

func TestRun_DirectPDFSeed(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/pds.pdf", func(w http.ResponseWriter, r *http.Request) {
		servePDF(w, fakePDF)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL + "/pds.pdf"}, 10)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.PagesScanned, "a direct PDF seed counts as one scanned page")
	assert.Equal(t, 1, snap.PDFsFound)
	assert.Equal(t, 1, snap.PDFsDownloaded)

	docs, err := env.store.ListDocuments(sess.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocumentStatusValidated, docs[0].Status)
}

func TestRun_DirectPDFSeedsRespectPageBudget(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	for _, name := range []string{"/a.pdf", "/b.pdf", "/c.pdf"} {
		mux.HandleFunc(name, func(w http.ResponseWriter, r *http.Request) {
			servePDF(w, fakePDF)
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	seeds := []string{server.URL + "/a.pdf", server.URL + "/b.pdf", server.URL + "/c.pdf"}
	sess := newSession(seeds, 1)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.LessOrEqual(t, snap.PagesScanned, sess.MaxPages,
		"direct PDF seeds draw from the same page budget")
	assert.Equal(t, 1, snap.PagesScanned)
	assert.Equal(t, 1, snap.PDFsFound)
	assert.Equal(t, 1, snap.PDFsDownloaded)
}

func TestRun_DuplicateContentStoredOnce(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `<a href="/a/wording.pdf">Policy Wording</a>
			<a href="/b/wording.pdf">Policy Wording mirror</a>`)
	})
	pdf := func(w http.ResponseWriter, r *http.Request) { servePDF(w, fakePDF) }
	mux.HandleFunc("/a/wording.pdf", pdf)
	mux.HandleFunc("/b/wording.pdf", pdf)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 10)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.PDFsFound)
	assert.Equal(t, 2, snap.PDFsDownloaded, "both URLs are fetched")

	docs, err := env.store.ListDocuments(sess.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "identical content is stored once")
}

func TestRun_RobotsDisallowSkipsPages(t *testing.T) {
	env := newTestEnv(t)

	var privateHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `<a href="/private/secret">secret</a><a href="/open">open</a>`)
	})
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `nothing here`)
	})
	mux.HandleFunc("/private/secret", func(w http.ResponseWriter, r *http.Request) {
		privateHits++
		servePage(w, `should never be fetched`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 10)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.PagesScanned, "the disallowed page is skipped")
	assert.Equal(t, 0, privateHits)

	logs, err := env.store.GetLogs(sess.ID, 0)
	require.NoError(t, err)
	var sawSkip bool
	for _, entry := range logs {
		if entry.Level == models.LogLevelWarn {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip, "skipping should leave a warn entry in the session log")

	robotsSkips := testutil.ToFloat64(env.deps.Metrics.ErrorsTotal.WithLabelValues("Policy_Robots"))
	assert.Equal(t, 1.0, robotsSkips, "robots skips land in the error metric under their own category")
}

func TestRun_DeadlineFinishesAsCompleted(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		var links string
		for i := 0; i < 10; i++ {
			links += fmt.Sprintf(`<a href="%sx%d/">page</a>`, r.URL.Path, i)
		}
		servePage(w, links)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 1000)
	sess.MaxDuration = 300 * time.Millisecond
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status,
		"running out of time is not a failure and not a stop")
	assert.Equal(t, 100, snap.ProgressPct)
}

func TestRun_SitemapSeedsDownloadSet(t *testing.T) {
	env := newTestEnv(t)

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
			<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc>%s/travel-pds.pdf</loc></url>
			</urlset>`, server.URL)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, `no links here`)
	})
	mux.HandleFunc("/travel-pds.pdf", func(w http.ResponseWriter, r *http.Request) {
		servePDF(w, fakePDF)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sess := newSession([]string{server.URL}, 10)
	require.NoError(t, env.store.SaveSession(sess))

	ctrl := New(env.deps, sess)
	ctrl.Run(context.Background())

	snap := ctrl.Snapshot()
	assert.Equal(t, models.SessionStatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.PDFsFound, "PDF came from the sitemap, not a page link")
	assert.Equal(t, 1, snap.PDFsDownloaded)
}
