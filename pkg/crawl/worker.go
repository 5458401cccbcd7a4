package crawl

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"policycrawl/pkg/classify"
	"policycrawl/pkg/extract"
	"policycrawl/pkg/fetch"
	"policycrawl/pkg/models"
	"policycrawl/pkg/parse"
	"policycrawl/pkg/utils"
)

// pageResult is what a worker reports back for one frontier item. Exactly
// one result is sent per popped item, even when the page was skipped, so
// the controller's pending count always drains. skipErr carries the
// sentinel explaining a skip; nil means the skip needs no log entry
// (cancellation).
type pageResult struct {
	item      *models.WorkItem
	docs      []docTask // confirmed document URLs found on the page
	pageLinks []string  // normalized in-scope page URLs for the frontier
	err       *fetch.Error
	skipped   bool
	skipErr   error
}

// docResult reports one download attempt
type docResult struct {
	task       docTask
	docID      string
	filePath   string
	fileSize   int64
	fileHash   string
	textSample string
	err        *fetch.Error
	skipped    bool
	skipErr    error
}

// worker holds the per-crawl read-only state shared by all worker
// goroutines. Scope checking reads maps the controller filled before the
// workers started, so no locking is needed.
type worker struct {
	deps    Deps
	log     *logrus.Entry
	inScope func(host string) bool
}

// scanPage fetches one page, extracts its links, and sorts them into
// confirmed documents and further pages to visit. Document-looking URLs
// without a .pdf extension get a HEAD probe, bounded per page.
func (w *worker) scanPage(ctx context.Context, item *models.WorkItem) *pageResult {
	res := &pageResult{item: item}

	if ctx.Err() != nil {
		res.skipped = true
		return res
	}

	u, err := url.Parse(item.URL)
	if err != nil {
		res.skipped = true
		res.skipErr = utils.WrapErrorf(utils.ErrParsing, "unparseable URL")
		return res
	}

	if !w.deps.Robots.TestAgent(ctx, u, w.deps.Cfg.UserAgent) {
		res.skipped = true
		res.skipErr = utils.ErrRobotsDisallowed
		return res
	}

	host := u.Hostname()
	if err := w.deps.Hosts.Acquire(ctx, host); err != nil {
		res.skipped = true
		return res
	}
	w.deps.RateLimiter.ApplyDelay(ctx, host, w.deps.Cfg.DelayPerHost)
	body, finalURL, contentType, err := w.deps.Fetcher.FetchPage(ctx, item.URL)
	w.deps.RateLimiter.UpdateLastRequestTime(host)
	w.deps.Hosts.Release(host)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.skipped = true
			return res
		}
		res.err = fetch.ClassifyError(item.URL, err)
		return res
	}

	// A page URL can redirect straight to a PDF; the fetch still counted
	// as scanning one page, and the final URL joins the download set.
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		if norm, docURL, err := parse.ParseAndNormalize(finalURL); err == nil && w.inScope(docURL.Hostname()) {
			res.docs = append(res.docs, docTask{URL: norm})
		}
		return res
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		base = u
	}
	page, err := extract.ExtractLinks(body, base)
	if err != nil {
		res.skipped = true
		res.skipErr = utils.WrapErrorf(utils.ErrParsing, "HTML parse failed: %v", err)
		return res
	}

	probesLeft := w.deps.Cfg.Crawl.HeadProbesPerPage
	seen := make(map[string]struct{}, len(page.Links))
	for _, link := range page.Links {
		norm, linkURL, err := parse.ParseAndNormalize(link.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		if !w.inScope(linkURL.Hostname()) {
			continue
		}

		switch {
		case parse.IsPDFURL(norm):
			res.docs = append(res.docs, docTask{URL: norm, LinkText: link.Text})
		case parse.IsLikelyDocumentURL(norm, link.Text) && probesLeft > 0:
			probesLeft--
			if w.deps.Fetcher.ProbeIsPDF(ctx, norm) {
				res.docs = append(res.docs, docTask{URL: norm, LinkText: link.Text})
			} else {
				res.pageLinks = append(res.pageLinks, norm)
			}
		default:
			res.pageLinks = append(res.pageLinks, norm)
		}
	}
	return res
}

// download streams one document to the file store and extracts a text
// sample for classification. The controller decides what to do with the
// result; this function never touches session state.
func (w *worker) download(ctx context.Context, sessionID string, task docTask) *docResult {
	res := &docResult{task: task}

	if ctx.Err() != nil {
		res.skipped = true
		return res
	}

	u, err := url.Parse(task.URL)
	if err != nil {
		res.skipped = true
		res.skipErr = utils.WrapErrorf(utils.ErrParsing, "unparseable URL")
		return res
	}

	if !w.deps.Robots.TestAgent(ctx, u, w.deps.Cfg.UserAgent) {
		res.skipped = true
		res.skipErr = utils.ErrRobotsDisallowed
		return res
	}

	host := u.Hostname()
	if err := w.deps.Hosts.Acquire(ctx, host); err != nil {
		res.skipped = true
		return res
	}
	defer w.deps.Hosts.Release(host)
	w.deps.RateLimiter.ApplyDelay(ctx, host, w.deps.Cfg.DelayPerHost)

	dlCtx := ctx
	if timeout := w.deps.Cfg.Crawl.DownloadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := w.deps.Fetcher.OpenDownload(dlCtx, task.URL)
	w.deps.RateLimiter.UpdateLastRequestTime(host)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.skipped = true
			return res
		}
		res.err = fetch.ClassifyError(task.URL, err)
		return res
	}

	res.docID = uuid.NewString()
	path, size, hash, err := w.deps.Files.Save(sessionID, res.docID, resp.Body)
	resp.Body.Close()
	if err != nil {
		res.err = fetch.ClassifyError(task.URL, err)
		return res
	}
	if size == 0 {
		if rmErr := w.deps.Files.Remove(sessionID, res.docID); rmErr != nil {
			w.log.Warnf("Removing empty download: %v", rmErr)
		}
		res.skipped = true
		res.skipErr = utils.WrapErrorf(utils.ErrResponseBodyRead, "empty response body")
		return res
	}

	res.filePath = path
	res.fileSize = size
	res.fileHash = hash

	sample, err := classify.ExtractTextSample(path)
	if err != nil {
		w.log.WithField("url", task.URL).Debugf("Text extraction failed: %v", err)
	}
	res.textSample = sample
	return res
}
