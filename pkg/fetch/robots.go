package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/semaphore"

	"policycrawl/pkg/config"
)

// SitemapDiscoverer defines the callback interface for handling discovered sitemap URLs
type SitemapDiscoverer interface {
	FoundSitemap(sitemapURL string)
}

// RobotsHandler manages fetching, parsing, caching, and checking robots.txt data
type RobotsHandler struct {
	fetcher         *Fetcher
	rateLimiter     *RateLimiter
	robotsCache     map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	robotsCacheMu   sync.Mutex
	globalSemaphore *semaphore.Weighted
	sitemapNotifier SitemapDiscoverer // Component to notify about found sitemaps
	cfg             *config.AppConfig
	log             *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(
	fetcher *Fetcher,
	rateLimiter *RateLimiter,
	globalSemaphore *semaphore.Weighted,
	sitemapNotifier SitemapDiscoverer,
	cfg *config.AppConfig,
	log *logrus.Entry,
) *RobotsHandler {
	return &RobotsHandler{
		fetcher:         fetcher,
		rateLimiter:     rateLimiter,
		robotsCache:     make(map[string]*robotstxt.RobotsData),
		globalSemaphore: globalSemaphore,
		sitemapNotifier: sitemapNotifier,
		cfg:             cfg,
		log:             log,
	}
}

// GetRobotsData retrieves robots.txt data for the targetURL's host, using cache or fetching
// Returns parsed data or nil on any error/4xx/missing file
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	if ctx == nil {
		ctx = context.Background()
	}

	host := targetURL.Hostname()
	hostLog := rh.log.WithField("host", host)

	// 1. Check cache
	rh.robotsCacheMu.Lock()
	robotsData, found := rh.robotsCache[host]
	rh.robotsCacheMu.Unlock()
	if found {
		return robotsData // Return cached data (could be nil)
	}

	// 2. Prepare fetch URL
	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if targetURL.Scheme != "http" && targetURL.Scheme != "https" {
		hostLog.Warnf("Invalid scheme '%s', defaulting to https for robots.txt", targetURL.Scheme)
		robotsURL.Scheme = "https"
	}
	robotsURLStr := robotsURL.String()
	robotsLog := hostLog.WithField("robots_url", robotsURLStr)
	robotsLog.Info("Fetching robots.txt...") // Log only on cache miss

	// 3. Acquire global semaphore
	semTimeout := rh.cfg.SemaphoreAcquireTimeout
	robotsLog.Debug("Acquiring global semaphore...")
	ctxAcquire, cancelAcquire := context.WithTimeout(ctx, semTimeout)
	err := rh.globalSemaphore.Acquire(ctxAcquire, 1)
	cancelAcquire()
	if err != nil {
		robotsLog.Errorf("Error acquiring global semaphore: %v", err)
		rh.cacheResult(host, nil)
		return nil
	}
	defer rh.globalSemaphore.Release(1)

	// 4. Apply rate limit
	rh.rateLimiter.ApplyDelay(ctx, host, rh.cfg.DelayPerHost)

	// 5. Fetch (with retries via Fetcher)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURLStr, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		rh.cacheResult(host, nil)
		return nil
	}
	req.Header.Set("User-Agent", rh.cfg.UserAgent)

	resp, fetchErr := rh.fetcher.FetchWithRetry(ctx, req)
	rh.rateLimiter.UpdateLastRequestTime(host) // Update time after attempt

	if fetchErr != nil {
		// Fetcher already logged error details. A missing or broken
		// robots.txt means the host is treated as fully allowed.
		robotsLog.Warnf("Fetching robots.txt failed: %v", fetchErr)
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		rh.cacheResult(host, nil)
		return nil
	}
	defer resp.Body.Close()

	// 6. Read and parse body
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		rh.cacheResult(host, nil)
		return nil
	}

	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		rh.cacheResult(host, nil)
		return nil
	}

	// 7. Cache success & notify sitemaps
	robotsLog.Info("Successfully fetched and parsed robots.txt")
	rh.cacheResult(host, data)

	if rh.sitemapNotifier != nil && len(data.Sitemaps) > 0 {
		robotsLog.Infof("Found %d sitemap directive(s)", len(data.Sitemaps))
		for _, sitemapURL := range data.Sitemaps {
			rh.sitemapNotifier.FoundSitemap(sitemapURL)
		}
	}

	return data
}

func (rh *RobotsHandler) cacheResult(host string, data *robotstxt.RobotsData) {
	rh.robotsCacheMu.Lock()
	rh.robotsCache[host] = data
	rh.robotsCacheMu.Unlock()
}

// TestAgent checks if the user agent is allowed access based on cached/fetched rules
// Returns true if allowed (or robots fetch/parse fails), false otherwise
func (rh *RobotsHandler) TestAgent(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	// Get data, fetching if needed. Handles caching internally
	robotsData := rh.GetRobotsData(ctx, targetURL)

	// Assume allowed if robots data could not be obtained (4xx, 5xx, network error, parse error)
	if robotsData == nil {
		return true
	}

	return robotsData.TestAgent(targetURL.RequestURI(), userAgent)
}
