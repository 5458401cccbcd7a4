package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"policycrawl/pkg/utils"
)

// Link is a single outbound reference found on a page. Text is the visible
// anchor text (or title/aria-label fallback) and is used downstream for
// document classification hints.
type Link struct {
	URL  string
	Text string
}

// Page holds everything extracted from one HTML document.
type Page struct {
	Title string
	Links []Link
}

// onclick handlers frequently open documents via window.open('...') or
// location.href='...'; capture the first quoted URL-ish argument.
var onclickURLPattern = regexp.MustCompile(`(?i)(?:window\.open|location\.href\s*=|location\.assign)\s*\(?\s*['"]([^'"]+)['"]`)

// attributes some insurer sites stash document URLs in instead of href
var dataURLAttrs = []string{"data-href", "data-url", "data-file", "data-document-url"}

// ExtractLinks parses an HTML body and returns the page title plus every
// outbound http(s) link resolved against base. Deduplication happens on the
// resolved absolute URL; the first occurrence's text wins. Filtering by scope
// or exclusion rules is the caller's job.
func ExtractLinks(body []byte, base *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from %s: %w", utils.ErrParsing, base, err)
	}

	page := &Page{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	seen := make(map[string]struct{})

	add := func(rawHref, text string) {
		rawHref = strings.TrimSpace(rawHref)
		if rawHref == "" {
			return
		}
		linkURL, parseErr := base.Parse(rawHref)
		if parseErr != nil {
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return // skip mailto:, tel:, javascript:, etc
		}
		abs := linkURL.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		page.Links = append(page.Links, Link{URL: abs, Text: strings.TrimSpace(text)})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		add(href, linkText(sel))
	})

	// Embedded viewers: PDFs are often presented inline rather than linked
	doc.Find("iframe[src], embed[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		add(src, linkText(sel))
	})
	doc.Find("object[data]").Each(func(_ int, sel *goquery.Selection) {
		data, _ := sel.Attr("data")
		add(data, linkText(sel))
	})

	// data-* attribute conventions used by JS-driven download buttons
	for _, attr := range dataURLAttrs {
		doc.Find("[" + attr + "]").Each(func(_ int, sel *goquery.Selection) {
			val, _ := sel.Attr(attr)
			add(val, linkText(sel))
		})
	}

	// onclick handlers that navigate
	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		handler, _ := sel.Attr("onclick")
		if m := onclickURLPattern.FindStringSubmatch(handler); m != nil {
			add(m[1], linkText(sel))
		}
	})

	return page, nil
}

// linkText returns the best human-readable label for an element: its visible
// text, falling back to title then aria-label attributes.
func linkText(sel *goquery.Selection) string {
	if text := strings.TrimSpace(sel.Text()); text != "" {
		return text
	}
	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	if label, ok := sel.Attr("aria-label"); ok {
		return strings.TrimSpace(label)
	}
	return ""
}
