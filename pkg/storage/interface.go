package storage

import (
	"context"
	"time"

	"policycrawl/pkg/models"
)

// SessionStore persists crawl session records
type SessionStore interface {
	// SaveSession writes the full session record, overwriting any existing one
	SaveSession(session *models.CrawlSession) error

	// GetSession retrieves a session by ID. Returns utils.ErrNotFound if absent.
	GetSession(sessionID string) (*models.CrawlSession, error)

	// ListSessions returns all sessions, newest first
	ListSessions() ([]*models.CrawlSession, error)

	// DeleteSession removes a session and everything attached to it:
	// documents, their hash index entries, and the session log. Deleting an
	// absent session is not an error. Returns counts of removed documents
	// and log entries.
	DeleteSession(sessionID string) (docsDeleted, logsDeleted int, err error)
}

// DocumentStore persists downloaded document records
type DocumentStore interface {
	// SaveDocument writes the full document record, overwriting any existing one
	SaveDocument(doc *models.Document) error

	// GetDocument retrieves a document by session and ID. Returns
	// utils.ErrNotFound if absent.
	GetDocument(sessionID, docID string) (*models.Document, error)

	// DeleteDocument removes a document record and its hash index entry.
	// Deleting an absent document is not an error.
	DeleteDocument(sessionID, docID string) error

	// ListDocuments returns the documents of one session, oldest first.
	// An empty sessionID lists manually uploaded documents.
	ListDocuments(sessionID string) ([]*models.Document, error)

	// ListAllDocuments returns every document record across all sessions
	ListAllDocuments() ([]*models.Document, error)

	// SetHashRef records which document owns a file hash
	SetHashRef(fileHash, sessionID, docID string) error

	// GetHashRef looks up the document owning a file hash.
	// found is false when the hash has not been seen.
	GetHashRef(fileHash string) (sessionID, docID string, found bool, err error)
}

// LogStore persists the per-session operator log. Sequence numbers start at 1
// and are gap-free within a session.
type LogStore interface {
	// AppendLog appends an entry and returns its sequence number
	AppendLog(sessionID string, level models.LogLevel, message string) (seq int, err error)

	// GetLogs returns entries with Seq > sinceSeq, in sequence order.
	// sinceSeq 0 returns the full log.
	GetLogs(sessionID string, sinceSeq int) ([]models.LogEntry, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine.
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	SessionStore
	DocumentStore
	LogStore
	StoreAdmin
}
