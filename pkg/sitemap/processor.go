package sitemap

import (
	"context"
	"encoding/xml"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/fetch"
	"policycrawl/pkg/parse"
)

const (
	// nested sitemap indexes can reference hundreds of files; cap how many
	// we fetch per seed host so discovery stays bounded
	maxSitemapFetches = 10
	maxURLsPerHost    = 2000
)

// Discoverer collects sitemap URLs (from robots.txt directives and the
// well-known /sitemap.xml location) and expands them into page URLs for the
// frontier. It implements fetch.SitemapDiscoverer so the robots handler can
// hand over Sitemap: directives as it parses robots files.
type Discoverer struct {
	fetcher *fetch.Fetcher
	log     *logrus.Entry

	mu       sync.Mutex
	notified map[string][]string // hostname -> sitemap URLs from robots.txt
}

// NewDiscoverer creates a Discoverer
func NewDiscoverer(fetcher *fetch.Fetcher, log *logrus.Logger) *Discoverer {
	return &Discoverer{
		fetcher:  fetcher,
		log:      log.WithField("component", "sitemap_discoverer"),
		notified: make(map[string][]string),
	}
}

// FoundSitemap records a sitemap URL announced by a robots.txt file. Called
// by the robots handler; safe for concurrent use.
func (d *Discoverer) FoundSitemap(sitemapURL string) {
	parsed, err := url.Parse(sitemapURL)
	if err != nil || parsed.Hostname() == "" {
		d.log.Warnf("Ignoring invalid sitemap directive: %s", sitemapURL)
		return
	}
	host := parsed.Hostname()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.notified[host] {
		if existing == sitemapURL {
			return
		}
	}
	d.notified[host] = append(d.notified[host], sitemapURL)
	d.log.WithFields(logrus.Fields{"host": host, "sitemap_url": sitemapURL}).Debug("Recorded sitemap directive")
}

// Discover fetches and expands the sitemaps known for seedURL's host: any
// robots-announced sitemaps plus the well-known /sitemap.xml fallback. Nested
// sitemap indexes are followed up to maxSitemapFetches files. Returned URLs
// are deduplicated but NOT scope-filtered; the caller applies domain and
// exclusion rules before queueing.
func (d *Discoverer) Discover(ctx context.Context, seedURL string) []string {
	parsed, err := url.Parse(seedURL)
	if err != nil || parsed.Hostname() == "" {
		return nil
	}
	host := parsed.Hostname()
	hostLog := d.log.WithField("host", host)

	d.mu.Lock()
	pending := append([]string(nil), d.notified[host]...)
	d.mu.Unlock()

	if len(pending) == 0 {
		// No robots directives; probe the conventional location
		pending = []string{parsed.Scheme + "://" + parsed.Host + "/sitemap.xml"}
	}

	seen := make(map[string]struct{})
	visited := make(map[string]struct{})
	var pageURLs []string
	fetches := 0

	for len(pending) > 0 && fetches < maxSitemapFetches && len(pageURLs) < maxURLsPerHost {
		if ctx.Err() != nil {
			hostLog.Warnf("Context cancelled during sitemap discovery: %v", ctx.Err())
			break
		}

		smURL := pending[0]
		pending = pending[1:]
		if _, dup := visited[smURL]; dup {
			continue
		}
		visited[smURL] = struct{}{}
		fetches++

		smLog := hostLog.WithField("sitemap_url", smURL)
		body, _, _, fetchErr := d.fetcher.FetchPage(ctx, smURL)
		if fetchErr != nil {
			smLog.Debugf("Sitemap fetch failed: %v", fetchErr)
			continue
		}

		// Try index first: an index parses cleanly as an (empty) urlset too,
		// so order matters
		var index parse.XMLSitemapIndex
		if errIndex := xml.Unmarshal(body, &index); errIndex == nil && len(index.Sitemaps) > 0 {
			smLog.Debugf("Parsed as sitemap index with %d references", len(index.Sitemaps))
			for _, entry := range index.Sitemaps {
				if _, parseErr := url.ParseRequestURI(entry.Loc); parseErr != nil {
					continue
				}
				pending = append(pending, entry.Loc)
			}
			continue
		}

		var urlSet parse.XMLURLSet
		if errSet := xml.Unmarshal(body, &urlSet); errSet != nil {
			smLog.Debugf("Content is not a sitemap index or URL set: %v", errSet)
			continue
		}

		added := 0
		for _, entry := range urlSet.URLs {
			if len(pageURLs) >= maxURLsPerHost {
				break
			}
			loc, parseErr := url.Parse(entry.Loc)
			if parseErr != nil || (loc.Scheme != "http" && loc.Scheme != "https") {
				continue
			}
			if _, dup := seen[entry.Loc]; dup {
				continue
			}
			seen[entry.Loc] = struct{}{}
			pageURLs = append(pageURLs, entry.Loc)
			added++
		}
		smLog.Debugf("Parsed as URL set, collected %d new URLs", added)
	}

	hostLog.Infof("Sitemap discovery finished: %d URLs from %d sitemap(s)", len(pageURLs), fetches)
	return pageURLs
}
