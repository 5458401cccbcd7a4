package parse

import (
	"net/url"
	"strings"
)

// Two-part country-code TLD suffixes. Without these, the registrable domain
// of tower.co.nz would compute as "co.nz" and match every .co.nz site.
var ccTLDSuffixes = map[string]struct{}{
	"co.nz": {}, "org.nz": {}, "net.nz": {}, "govt.nz": {}, "ac.nz": {},
	"com.au": {}, "org.au": {}, "net.au": {}, "edu.au": {}, "gov.au": {},
	"co.uk": {}, "org.uk": {}, "me.uk": {}, "net.uk": {}, "gov.uk": {},
	"co.za": {}, "org.za": {}, "co.in": {}, "com.sg": {}, "com.hk": {},
	"co.jp": {}, "com.br": {}, "co.kr": {}, "com.mx": {}, "co.id": {},
}

// RegistrableDomain extracts the owner-level domain from a host, handling
// two-part ccTLDs: "quotes.tower.co.nz" -> "tower.co.nz",
// "www.aami.com.au" -> "aami.com.au", "example.com" -> "example.com".
func RegistrableDomain(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 { // strip port
		host = host[:i]
	}
	parts := strings.Split(host, ".")

	if len(parts) >= 3 {
		suffix := strings.Join(parts[len(parts)-2:], ".")
		if _, ok := ccTLDSuffixes[suffix]; ok {
			return strings.Join(parts[len(parts)-3:], ".")
		}
	}
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// SameDomain reports whether two URLs share a registrable domain, so
// subdomains of a seed stay in scope but sibling .co.nz sites do not.
func SameDomain(seedURL, candidateURL string) bool {
	seed, err := url.Parse(seedURL)
	if err != nil {
		return false
	}
	candidate, err := url.Parse(candidateURL)
	if err != nil {
		return false
	}
	seedDomain := RegistrableDomain(seed.Host)
	if seedDomain == "" {
		return false
	}
	return seedDomain == RegistrableDomain(candidate.Host)
}

// IsPDFURL reports whether a URL looks like it points to a PDF: a .pdf
// path segment, or .pdf appearing in the query string (?file=motor.pdf).
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(strings.ToLower(rawURL), ".pdf")
	}
	path := strings.ToLower(u.Path)
	if strings.HasSuffix(path, ".pdf") || strings.HasSuffix(path, ".pdf/") {
		return true
	}
	if strings.Contains(path, ".pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(u.RawQuery), ".pdf")
}

// Path fragments that frequently front document downloads on insurer sites.
var docPathKeywords = []string{
	"/download", "/document", "/getdocument", "/getfile",
	"/file/", "/media/", "/assets/", "/pdfs/", "/publications/",
	"/forms/", "/brochure", "/disclosure", "/resources/",
	"/policy-wording", "/policy-document", "/pds/",
	"/factsheet", "/fact-sheet", "/target-market",
	"/product-guide", "/claim-form", "/certificate",
	"/wp-content/uploads", "/sites/default/files",
}

// Anchor-text phrases that suggest the link serves a document.
var docTextKeywords = []string{
	"download", "pdf", "policy wording", "pds", "fact sheet",
	"product disclosure", "target market", "brochure",
	"view document", "open document", "policy document",
	"claim form", "product guide", "view pdf", "download pdf",
	"terms and conditions", "certificate of insurance",
	"supplementary", "endorsement",
}

// IsLikelyDocumentURL reports whether a URL might serve a downloadable
// document even without a .pdf extension. Callers confirm with a HEAD
// request before treating the URL as a PDF.
func IsLikelyDocumentURL(rawURL, linkText string) bool {
	urlLower := strings.ToLower(rawURL)
	for _, kw := range docPathKeywords {
		if strings.Contains(urlLower, kw) {
			return true
		}
	}
	if linkText != "" {
		textLower := strings.ToLower(linkText)
		for _, kw := range docTextKeywords {
			if strings.Contains(textLower, kw) {
				return true
			}
		}
	}
	return false
}
