package models

import "time"

// WorkItem represents a page URL and its depth waiting in the frontier queue
type WorkItem struct {
	URL      string
	Depth    int
	Priority int // Lower value is popped first; document-looking URLs get a boost
}

// CrawlConfig is the validated configuration one crawl session runs against.
// PolicyTypes and Keywords are non-excluding hints: they annotate classified
// documents with warnings but never filter a document out.
type CrawlConfig struct {
	Country     string        `json:"country"`
	SeedURLs    []string      `json:"seed_urls"`
	PolicyTypes []string      `json:"policy_types,omitempty"`
	Keywords    []string      `json:"keywords,omitempty"`
	MaxPages    int           `json:"max_pages"`
	MaxDuration time.Duration `json:"max_duration"`
	OwnerID     string        `json:"owner_id"`
}

// CrawlSession holds all state for a single crawl. Only the controller
// goroutine that owns the session mutates it; once the session reaches a
// terminal status it is read-only.
type CrawlSession struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	Country         string        `json:"country"`
	SeedURLs        []string      `json:"seed_urls"`
	PolicyTypes     []string      `json:"policy_types,omitempty"`
	Keywords        []string      `json:"keywords,omitempty"`
	MaxPages        int           `json:"max_pages"`
	MaxDuration     time.Duration `json:"max_duration"`
	Status          SessionStatus `json:"status"`
	Phase           Phase         `json:"phase"`
	PhaseDetail     string        `json:"phase_detail,omitempty"`
	ProgressPct     int           `json:"progress_pct"`
	PagesScanned    int           `json:"pages_scanned"`
	PDFsFound       int           `json:"pdfs_found"`
	PDFsDownloaded  int           `json:"pdfs_downloaded"`
	ErrorsCount     int           `json:"errors_count"`
	Insurers        []string      `json:"insurers,omitempty"`
	SeedURLsVisited []string      `json:"seed_urls_visited,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       time.Time     `json:"started_at,omitempty"`
	EndedAt         time.Time     `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the controller
// keeps mutating the original.
func (s *CrawlSession) Clone() *CrawlSession {
	cp := *s
	cp.SeedURLs = append([]string(nil), s.SeedURLs...)
	cp.PolicyTypes = append([]string(nil), s.PolicyTypes...)
	cp.Keywords = append([]string(nil), s.Keywords...)
	cp.Insurers = append([]string(nil), s.Insurers...)
	cp.SeedURLsVisited = append([]string(nil), s.SeedURLsVisited...)
	return &cp
}

// Document is one downloaded and classified PDF. Status is decided exactly
// once at creation by the confidence triage rule and never revisited by the
// crawl engine.
type Document struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id,omitempty"` // empty for manual uploads
	Insurer      string         `json:"insurer"`
	SourceURL    string         `json:"source_url"`
	Country      string         `json:"country"`
	PolicyType   string         `json:"policy_type"`
	DocumentType string         `json:"document_type"`
	Confidence   float64        `json:"confidence"`
	Status       DocumentStatus `json:"status"`
	FilePath     string         `json:"file_path"`
	FileSize     int64          `json:"file_size"`
	FileHash     string         `json:"file_hash"`
	Warnings     []string       `json:"warnings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// LogEntry is one line of a session's append-only log stream. Seq starts at 1
// and increases by exactly one per entry within a session, so "give me
// everything after N" with N=0 returns the whole stream.
type LogEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"msg"`
}
