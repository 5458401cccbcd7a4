package parse

import "encoding/xml"

// Wire shapes for the two sitemap document kinds: a <urlset> listing page
// locations, and a <sitemapindex> pointing at further sitemap files. Only
// <loc> matters for discovery.

// XMLURL is one <url> element in a urlset.
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet is the root of a plain sitemap.
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap is one <sitemap> element in an index file.
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex is the root of a sitemap index file.
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}
