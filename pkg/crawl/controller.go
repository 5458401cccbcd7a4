package crawl

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/classify"
	"policycrawl/pkg/config"
	"policycrawl/pkg/fetch"
	"policycrawl/pkg/files"
	"policycrawl/pkg/metrics"
	"policycrawl/pkg/models"
	"policycrawl/pkg/parse"
	"policycrawl/pkg/queue"
	"policycrawl/pkg/sitemap"
	"policycrawl/pkg/storage"
	"policycrawl/pkg/utils"
)

// Priority boost for URLs that look like they lead straight to documents.
// They jump ahead of same-depth page URLs in the frontier.
const docURLPriorityBoost = 1000

// Deps bundles everything a crawl controller needs. All fields are shared
// service singletons except the session itself.
type Deps struct {
	Store       storage.Store
	Files       *files.Store
	Fetcher     *fetch.Fetcher
	Robots      *fetch.RobotsHandler
	RateLimiter *fetch.RateLimiter
	Hosts       *fetch.HostSemaphorePool
	Sitemaps    *sitemap.Discoverer
	Classifier  *classify.Classifier
	Metrics     *metrics.Metrics
	Cfg         *config.AppConfig
	Log         *logrus.Logger
}

// Controller runs one crawl session from start to terminal state. A single
// controller goroutine owns all session state; workers only fetch, extract,
// probe and download, reporting back over channels. That keeps every counter
// update, log append and snapshot publication on one goroutine.
type Controller struct {
	deps Deps
	log  *logrus.Entry

	session  *models.CrawlSession
	snapshot atomic.Pointer[models.CrawlSession]

	frontier *queue.Frontier
	results  chan *pageResult

	seenPages map[string]struct{} // normalized page URLs ever admitted
	seenDocs  map[string]struct{} // normalized document URLs ever collected
	docQueue  []docTask           // download set, in discovery order
	insurers  map[string]struct{}

	admitted int // pages handed to the frontier; never exceeds MaxPages
	pending  int // admitted pages whose result has not arrived yet

	seedDomains map[string]struct{}
	excludes    []*regexp.Regexp

	highWater int // progress only ever moves forward
}

type docTask struct {
	URL      string
	LinkText string
}

// New creates a Controller for the given session. The session must be in
// pending state; Run moves it through its lifecycle.
func New(deps Deps, session *models.CrawlSession) *Controller {
	c := &Controller{
		deps:        deps,
		log:         deps.Log.WithField("component", "crawl").WithField("session_id", session.ID),
		session:     session,
		frontier:    queue.NewFrontier(deps.Log),
		results:     make(chan *pageResult),
		seenPages:   make(map[string]struct{}),
		seenDocs:    make(map[string]struct{}),
		insurers:    make(map[string]struct{}),
		seedDomains: make(map[string]struct{}),
	}
	for _, pattern := range deps.Cfg.Crawl.ExcludeURLPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			c.log.Warnf("Ignoring invalid exclude pattern %q: %v", pattern, err)
			continue
		}
		c.excludes = append(c.excludes, re)
	}
	c.snapshot.Store(session.Clone())
	return c
}

// Snapshot returns the latest published copy of the session state. Safe to
// call from any goroutine at any time.
func (c *Controller) Snapshot() *models.CrawlSession {
	return c.snapshot.Load()
}

// Run executes the crawl until it reaches a terminal state. Cancelling ctx
// requests a cooperative stop; the session finishes as "stopped". Hitting
// the session's own duration budget finishes it as "completed".
func (c *Controller) Run(ctx context.Context) {
	start := time.Now()

	c.session.Status = models.SessionStatusRunning
	c.session.Phase = models.PhaseScanning
	c.session.StartedAt = start.UTC()
	c.publish()
	c.appendLog(models.LogLevelInfo, "Crawl started: %d seed URL(s), budget %d pages / %s",
		len(c.session.SeedURLs), c.session.MaxPages, c.session.MaxDuration)

	// The duration budget is a deadline on the session's own context. When
	// it fires the crawl winds down and still counts as completed; only the
	// parent context (operator stop) produces "stopped".
	crawlCtx := ctx
	var cancel context.CancelFunc
	if c.session.MaxDuration > 0 {
		crawlCtx, cancel = context.WithTimeout(ctx, c.session.MaxDuration)
		defer cancel()
	}

	c.seed(crawlCtx)

	if c.pending > 0 {
		c.runScanPhase(crawlCtx)
	} else {
		c.frontier.Close()
	}

	if len(c.docQueue) > 0 && ctx.Err() == nil {
		c.session.Phase = models.PhaseDownloading
		c.session.PhaseDetail = "Preparing downloads"
		c.publish()
		c.appendLog(models.LogLevelInfo, "Scanning finished: %d page(s) scanned, %d PDF(s) found",
			c.session.PagesScanned, c.session.PDFsFound)
		c.runDownloadPhase(crawlCtx)
	}

	c.finalize(ctx, crawlCtx, start)
}

// seed validates seed URLs, routes direct-PDF seeds straight to the download
// set, expands sitemaps, and admits the remaining seeds as depth-0 pages.
func (c *Controller) seed(ctx context.Context) {
	for _, rawSeed := range c.session.SeedURLs {
		normalized, u, err := parse.ParseAndNormalize(rawSeed)
		if err != nil {
			c.session.ErrorsCount++
			c.countError(utils.WrapErrorf(utils.ErrParsing, "invalid seed URL"))
			c.appendLog(models.LogLevelError, "Invalid seed URL %q: %v", rawSeed, err)
			continue
		}
		c.seedDomains[parse.RegistrableDomain(u.Hostname())] = struct{}{}

		// A seed pointing directly at a PDF skips scanning entirely but
		// still costs one page of the budget so pages_scanned never
		// outruns max_pages.
		if parse.IsPDFURL(normalized) {
			if c.admitted >= c.session.MaxPages {
				c.appendLog(models.LogLevelWarn, "Page budget reached, skipping seed %s", normalized)
				continue
			}
			if c.collectDoc(normalized, "") {
				c.admitted++
				c.session.PagesScanned++
				c.deps.Metrics.PagesScanned.Inc()
				c.appendLog(models.LogLevelInfo, "Seed is a direct PDF link: %s", normalized)
			}
			continue
		}

		// Sitemap URLs feed the frontier without costing a page fetch per
		// discovery; PDF locations in sitemaps go straight to downloads.
		for _, loc := range c.deps.Sitemaps.Discover(ctx, normalized) {
			locNorm, locURL, err := parse.ParseAndNormalize(loc)
			if err != nil || !c.inScope(locURL.Hostname()) {
				continue
			}
			if parse.IsPDFURL(locNorm) {
				if c.collectDoc(locNorm, "") {
					c.appendLog(models.LogLevelInfo, "Found PDF in sitemap: %s", locNorm)
				}
				continue
			}
			c.admitPage(locNorm, 1)
		}

		c.admitPage(normalized, 0)
	}
	c.publish()
}

// runScanPhase owns the scan loop: workers pop pages off the frontier and
// send exactly one result per page; the controller admits discovered links
// while the page budget allows and closes the frontier when the last
// outstanding page reports in.
func (c *Controller) runScanPhase(ctx context.Context) {
	var wg sync.WaitGroup
	numWorkers := c.deps.Cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	w := &worker{deps: c.deps, log: c.log, inScope: c.inScope}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := c.frontier.Pop()
				if !ok {
					return
				}
				c.results <- w.scanPage(ctx, item)
			}
		}()
	}

	for c.pending > 0 {
		res := <-c.results
		c.pending--
		c.handlePageResult(ctx, res)
		if c.pending == 0 {
			c.frontier.Close()
		}
	}
	wg.Wait()
}

// handlePageResult folds one scanned page into the session: counters, seed
// bookkeeping, newly discovered documents, and frontier admissions.
func (c *Controller) handlePageResult(ctx context.Context, res *pageResult) {
	if res.skipped {
		if res.skipErr != nil {
			c.countError(res.skipErr)
			c.appendLog(models.LogLevelWarn, "Skipped %s: %v", res.item.URL, res.skipErr)
		}
		c.publish()
		return
	}
	if res.err != nil {
		c.session.ErrorsCount++
		c.countError(res.err)
		c.appendLog(models.LogLevelError, "Failed to scan %s: %v", res.item.URL, res.err)
		c.publish()
		return
	}

	c.session.PagesScanned++
	c.deps.Metrics.PagesScanned.Inc()
	if res.item.Depth == 0 {
		c.session.SeedURLsVisited = append(c.session.SeedURLsVisited, res.item.URL)
	}

	for _, doc := range res.docs {
		if c.collectDoc(doc.URL, doc.LinkText) {
			c.appendLog(models.LogLevelInfo, "Found PDF: %s", doc.URL)
		}
	}

	// Budget check happens per admission: once MaxPages pages have been
	// handed out, discovery stops but in-flight pages still finish.
	if ctx.Err() == nil {
		for _, link := range res.pageLinks {
			c.admitPage(link, res.item.Depth+1)
		}
	}

	c.session.PhaseDetail = fmt.Sprintf("Scanning page %d of up to %d", c.session.PagesScanned, c.session.MaxPages)
	c.publish()
	c.persist()
}

// admitPage adds a page URL to the frontier if it is new, in scope, not
// excluded, and the page budget still has room.
func (c *Controller) admitPage(normalized string, depth int) {
	if c.admitted >= c.session.MaxPages {
		return
	}
	if _, ok := c.seenPages[normalized]; ok {
		return
	}
	if c.excluded(normalized) {
		return
	}
	c.seenPages[normalized] = struct{}{}
	c.admitted++
	c.pending++

	priority := depth
	if parse.IsLikelyDocumentURL(normalized, "") {
		priority -= docURLPriorityBoost
	}
	c.frontier.Add(&models.WorkItem{URL: normalized, Depth: depth, Priority: priority})
}

// collectDoc adds a document URL to the download set. Returns true if the
// URL was new.
func (c *Controller) collectDoc(normalized, linkText string) bool {
	if _, ok := c.seenDocs[normalized]; ok {
		return false
	}
	if c.excluded(normalized) {
		return false
	}
	c.seenDocs[normalized] = struct{}{}
	c.docQueue = append(c.docQueue, docTask{URL: normalized, LinkText: linkText})
	c.session.PDFsFound++
	c.deps.Metrics.PDFsFound.Inc()
	return true
}

func (c *Controller) inScope(host string) bool {
	_, ok := c.seedDomains[parse.RegistrableDomain(host)]
	return ok
}

func (c *Controller) excluded(rawURL string) bool {
	for _, re := range c.excludes {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// runDownloadPhase streams every collected document to disk, classifies it,
// and records the resulting Document. Duplicate content (same SHA-256 as an
// earlier download) is discarded after download.
func (c *Controller) runDownloadPhase(ctx context.Context) {
	tasks := make(chan docTask)
	docResults := make(chan *docResult)

	numWorkers := c.deps.Cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(c.docQueue) {
		numWorkers = len(c.docQueue)
	}

	var wg sync.WaitGroup
	w := &worker{deps: c.deps, log: c.log, inScope: c.inScope}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				docResults <- w.download(ctx, c.session.ID, task)
			}
		}()
	}
	go func() {
		defer close(tasks)
		for _, task := range c.docQueue {
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	remaining := len(c.docQueue)
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	for remaining > 0 {
		select {
		case res := <-docResults:
			remaining--
			c.handleDocResult(res)
		case <-drained:
			// Workers exited with tasks still unsent (stop or deadline).
			remaining = 0
		}
	}
}

// handleDocResult persists one downloaded document, or records its failure.
// Content-hash deduplication happens here so it stays on the controller
// goroutine: the first download of a hash wins, later ones are removed.
func (c *Controller) handleDocResult(res *docResult) {
	defer func() {
		c.session.PhaseDetail = fmt.Sprintf("Downloading %d of %d documents", c.session.PDFsDownloaded, c.session.PDFsFound)
		c.publish()
		c.persist()
	}()

	if res.skipped {
		if res.skipErr != nil {
			c.countError(res.skipErr)
			c.appendLog(models.LogLevelWarn, "Skipped download %s: %v", res.task.URL, res.skipErr)
		}
		return
	}
	if res.err != nil {
		c.session.ErrorsCount++
		c.countError(res.err)
		c.appendLog(models.LogLevelError, "Failed to download %s: %v", res.task.URL, res.err)
		return
	}

	c.session.PDFsDownloaded++
	c.deps.Metrics.PDFsDownloaded.Inc()

	// Same bytes fetched twice within this session (mirrored URLs, testing
	// both http and https variants) collapse to one stored document.
	existingSession, existingDoc, found, err := c.deps.Store.GetHashRef(res.fileHash)
	if err == nil && found && existingSession == c.session.ID {
		c.appendLog(models.LogLevelInfo, "Duplicate content for %s (already stored as %s), discarding",
			res.task.URL, existingDoc)
		if rmErr := c.deps.Files.Remove(c.session.ID, res.docID); rmErr != nil {
			c.log.Warnf("Removing duplicate file: %v", rmErr)
		}
		return
	}

	doc := c.buildDocument(res)
	if err := c.deps.Store.SaveDocument(doc); err != nil {
		c.session.ErrorsCount++
		c.countError(err)
		c.appendLog(models.LogLevelError, "Failed to record document for %s: %v", res.task.URL, err)
		return
	}
	if err := c.deps.Store.SetHashRef(res.fileHash, c.session.ID, doc.ID); err != nil {
		c.log.Warnf("Recording content hash for %s: %v", doc.ID, err)
	}

	if doc.Insurer != "" && doc.Insurer != "Unknown" {
		if _, ok := c.insurers[doc.Insurer]; !ok {
			c.insurers[doc.Insurer] = struct{}{}
			c.session.Insurers = append(c.session.Insurers, doc.Insurer)
		}
	}

	c.deps.Metrics.DocumentsTotal.WithLabelValues(string(doc.Status)).Inc()
	c.appendLog(models.LogLevelInfo, "Classified %s as %q (%s, confidence %.2f, %s)",
		filepath.Base(doc.FilePath), doc.DocumentType, doc.PolicyType, doc.Confidence, doc.Status)
}

// buildDocument turns a successful download into a persisted Document,
// applying the soft policy-type and keyword hints as warnings.
func (c *Controller) buildDocument(res *docResult) *models.Document {
	requestedPolicy := ""
	if len(c.session.PolicyTypes) == 1 {
		requestedPolicy = c.session.PolicyTypes[0]
	}

	verdict := c.deps.Classifier.Classify(classify.Input{
		URL:        res.task.URL,
		Filename:   filepath.Base(res.filePath),
		PolicyType: requestedPolicy,
		FileSize:   res.fileSize,
		TextSample: res.textSample,
	})

	warnings := verdict.Warnings
	if len(c.session.PolicyTypes) > 0 && !containsFold(c.session.PolicyTypes, verdict.PolicyType) {
		warnings = append(warnings, "policy type not in requested set")
	}
	if len(c.session.Keywords) > 0 && !anyKeywordHit(c.session.Keywords, res.task.URL, res.textSample) {
		warnings = append(warnings, "no requested keyword matched")
	}

	insurer := verdict.Insurer
	if insurer == "" {
		insurer = classify.InsurerFromURL(res.task.URL)
	}

	relPath := res.filePath
	if rel, err := filepath.Rel(c.deps.Files.Root(), res.filePath); err == nil {
		relPath = rel
	}

	return &models.Document{
		ID:           res.docID,
		SessionID:    c.session.ID,
		Insurer:      insurer,
		SourceURL:    res.task.URL,
		Country:      c.session.Country,
		PolicyType:   verdict.PolicyType,
		DocumentType: verdict.DocumentType,
		Confidence:   verdict.Confidence,
		Status:       verdict.Status,
		FilePath:     relPath,
		FileSize:     res.fileSize,
		FileHash:     res.fileHash,
		Warnings:     warnings,
		CreatedAt:    time.Now().UTC(),
	}
}

// finalize decides the terminal status and writes the last session state.
// Operator cancellation (parent ctx) means stopped; the session's own
// deadline expiring still counts as completed; zero progress with nothing
// downloaded and at least one error means failed.
func (c *Controller) finalize(parentCtx, crawlCtx context.Context, start time.Time) {
	switch {
	case parentCtx.Err() != nil:
		c.session.Status = models.SessionStatusStopped
		c.session.Phase = models.PhaseStopped
		c.session.PhaseDetail = "Stopped by operator"
		c.appendLog(models.LogLevelWarn, "Crawl stopped: %d page(s) scanned, %d PDF(s) downloaded",
			c.session.PagesScanned, c.session.PDFsDownloaded)

	case c.session.PagesScanned == 0 && c.session.PDFsDownloaded == 0 && c.session.ErrorsCount > 0:
		c.session.Status = models.SessionStatusFailed
		c.session.Phase = models.PhaseFailed
		c.session.PhaseDetail = "No seed URL could be crawled"
		c.appendLog(models.LogLevelError, "Crawl failed: no progress was made (%d error(s))", c.session.ErrorsCount)

	default:
		c.session.Status = models.SessionStatusCompleted
		c.session.Phase = models.PhaseComplete
		c.session.ProgressPct = 100
		c.highWater = 100
		if crawlCtx.Err() != nil {
			c.session.PhaseDetail = "Time budget reached"
			c.appendLog(models.LogLevelInfo, "Time budget reached, finishing with what was collected")
		} else {
			c.session.PhaseDetail = "Complete"
		}
		c.appendLog(models.LogLevelInfo, "Crawl completed: %d page(s) scanned, %d PDF(s) downloaded, %d error(s)",
			c.session.PagesScanned, c.session.PDFsDownloaded, c.session.ErrorsCount)
	}

	c.session.EndedAt = time.Now().UTC()
	c.publish()
	c.persist()

	c.deps.Metrics.SessionsTotal.WithLabelValues(string(c.session.Status)).Inc()
	c.deps.Metrics.SessionDuration.Observe(time.Since(start).Seconds())
	c.log.WithFields(logrus.Fields{
		"status":   c.session.Status,
		"pages":    c.session.PagesScanned,
		"found":    c.session.PDFsFound,
		"saved":    c.session.PDFsDownloaded,
		"errors":   c.session.ErrorsCount,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Crawl finished")
}

// publish recomputes progress and stores a fresh snapshot. Progress splits
// the bar in two: scanning fills 0-50, downloading fills 50-100. During
// scanning the true denominator is unknowable, so the number of distinct
// URLs admitted so far (capped at MaxPages) stands in for it.
func (c *Controller) publish() {
	if !c.session.Status.IsTerminal() {
		var pct int
		switch c.session.Phase {
		case models.PhaseDownloading:
			denom := c.session.PDFsFound
			if denom < 1 {
				denom = 1
			}
			pct = 50 + 50*c.session.PDFsDownloaded/denom
		default:
			denom := c.admitted
			if denom > c.session.MaxPages {
				denom = c.session.MaxPages
			}
			if denom < 1 {
				denom = 1
			}
			pct = 50 * c.session.PagesScanned / denom
			if pct > 50 {
				pct = 50
			}
		}
		if pct > c.highWater {
			c.highWater = pct
		}
		c.session.ProgressPct = c.highWater
	}
	c.snapshot.Store(c.session.Clone())
}

func (c *Controller) persist() {
	if err := c.deps.Store.SaveSession(c.session); err != nil {
		c.log.Errorf("Persisting session state: %v", err)
	}
}

func (c *Controller) appendLog(level models.LogLevel, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if _, err := c.deps.Store.AppendLog(c.session.ID, level, msg); err != nil {
		c.log.Errorf("Appending session log: %v", err)
	}
}

// countError labels the error metric through utils.CategorizeError so
// operators can break failures down by sentinel category.
func (c *Controller) countError(err error) {
	c.deps.Metrics.ErrorsTotal.WithLabelValues(utils.CategorizeError(err)).Inc()
}

func containsFold(set []string, value string) bool {
	for _, s := range set {
		if strings.EqualFold(s, value) {
			return true
		}
	}
	return false
}

func anyKeywordHit(keywords []string, rawURL, textSample string) bool {
	haystack := strings.ToLower(rawURL + " " + textSample)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
