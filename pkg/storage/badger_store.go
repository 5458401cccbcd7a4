package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"policycrawl/pkg/log"
	"policycrawl/pkg/models"
	"policycrawl/pkg/utils"
)

const (
	sessionKeyPrefix = "session:"
	docKeyPrefix     = "doc:"
	hashKeyPrefix    = "doclink:"
	logKeyPrefix     = "log:"
	logSeqKeyPrefix  = "logseq:"

	// zero-padded so Badger's lexicographic key order matches sequence order
	logSeqWidth = 8
)

// BadgerStore implements the Store interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the crawl state database at dbPath.
// Existing sessions and documents survive restarts.
func NewBadgerStore(dbPath string, logger *logrus.Entry) (*BadgerStore, error) {
	logger.Infof("Initializing crawl state database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	logger.Info("Crawl state database initialized successfully.")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// setJSON marshals v and writes it under key in one update transaction
func (s *BadgerStore) setJSON(key string, v any) error {
	raw, errJSON := json.Marshal(v)
	if errJSON != nil {
		return fmt.Errorf("%w: marshalling value for key '%s': %w", utils.ErrParsing, key, errJSON)
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), raw))
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: setting key '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// getJSON reads key and unmarshals into out. Returns utils.ErrNotFound when
// the key is absent.
func (s *BadgerStore) getJSON(key string, out any) error {
	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(key))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return utils.ErrNotFound
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting key '%s': %w", utils.ErrDatabase, key, errGet)
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, out); errJSON != nil {
				return fmt.Errorf("%w: unmarshalling value of key '%s': %w", utils.ErrParsing, key, errJSON)
			}
			return nil
		})
	})
	if errView != nil && !errors.Is(errView, utils.ErrNotFound) {
		s.log.WithField("key", key).Errorf("DB View error: %v", errView)
	}
	return errView
}

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

func docKey(sessionID, docID string) string { return docKeyPrefix + sessionID + ":" + docID }

func hashKey(fileHash string) string { return hashKeyPrefix + fileHash }

func logKey(sessionID string, seq int) string {
	return fmt.Sprintf("%s%s:%0*d", logKeyPrefix, sessionID, logSeqWidth, seq)
}

func logSeqKey(sessionID string) string { return logSeqKeyPrefix + sessionID }

// --- SessionStore ---

// SaveSession implements the Store interface
func (s *BadgerStore) SaveSession(session *models.CrawlSession) error {
	return s.setJSON(sessionKey(session.ID), session)
}

// GetSession implements the Store interface
func (s *BadgerStore) GetSession(sessionID string) (*models.CrawlSession, error) {
	var session models.CrawlSession
	if err := s.getJSON(sessionKey(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions implements the Store interface
func (s *BadgerStore) ListSessions() ([]*models.CrawlSession, error) {
	var sessions []*models.CrawlSession
	err := s.scanPrefix(sessionKeyPrefix, func(_ string, val []byte) error {
		var session models.CrawlSession
		if errJSON := json.Unmarshal(val, &session); errJSON != nil {
			s.log.Warnf("Skipping undecodable session record: %v", errJSON)
			return nil
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteSession implements the Store interface
func (s *BadgerStore) DeleteSession(sessionID string) (int, int, error) {
	docsDeleted := 0
	logsDeleted := 0

	// Collect keys first: Badger forbids writes while iterating in View, and
	// batching deletes in one transaction keeps the cascade atomic enough for
	// an idempotent retry.
	docs, err := s.ListDocuments(sessionID)
	if err != nil {
		return 0, 0, err
	}

	var logKeys []string
	err = s.scanPrefix(logKeyPrefix+sessionID+":", func(key string, _ []byte) error {
		logKeys = append(logKeys, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		if errDel := txn.Delete([]byte(sessionKey(sessionID))); errDel != nil && !errors.Is(errDel, badger.ErrKeyNotFound) {
			return errDel
		}
		for _, doc := range docs {
			if errDel := txn.Delete([]byte(docKey(sessionID, doc.ID))); errDel != nil {
				return errDel
			}
			if doc.FileHash != "" {
				if errDel := txn.Delete([]byte(hashKey(doc.FileHash))); errDel != nil {
					return errDel
				}
			}
			docsDeleted++
		}
		for _, key := range logKeys {
			if errDel := txn.Delete([]byte(key)); errDel != nil {
				return errDel
			}
			logsDeleted++
		}
		return txn.Delete([]byte(logSeqKey(sessionID)))
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: deleting session '%s': %w", utils.ErrDatabase, sessionID, err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"docs_deleted": docsDeleted,
		"logs_deleted": logsDeleted,
	}).Info("Deleted session and attached records")
	return docsDeleted, logsDeleted, nil
}

// --- DocumentStore ---

// SaveDocument implements the Store interface
func (s *BadgerStore) SaveDocument(doc *models.Document) error {
	return s.setJSON(docKey(doc.SessionID, doc.ID), doc)
}

// GetDocument implements the Store interface
func (s *BadgerStore) GetDocument(sessionID, docID string) (*models.Document, error) {
	var doc models.Document
	if err := s.getJSON(docKey(sessionID, docID), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument implements the Store interface
func (s *BadgerStore) DeleteDocument(sessionID, docID string) error {
	doc, err := s.GetDocument(sessionID, docID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		if errDel := txn.Delete([]byte(docKey(sessionID, docID))); errDel != nil {
			return errDel
		}
		if doc.FileHash != "" {
			return txn.Delete([]byte(hashKey(doc.FileHash)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting document '%s': %w", utils.ErrDatabase, docID, err)
	}
	return nil
}

// ListDocuments implements the Store interface
func (s *BadgerStore) ListDocuments(sessionID string) ([]*models.Document, error) {
	return s.listDocsByPrefix(docKeyPrefix + sessionID + ":")
}

// ListAllDocuments implements the Store interface
func (s *BadgerStore) ListAllDocuments() ([]*models.Document, error) {
	return s.listDocsByPrefix(docKeyPrefix)
}

func (s *BadgerStore) listDocsByPrefix(prefix string) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.scanPrefix(prefix, func(_ string, val []byte) error {
		var doc models.Document
		if errJSON := json.Unmarshal(val, &doc); errJSON != nil {
			s.log.Warnf("Skipping undecodable document record: %v", errJSON)
			return nil
		}
		docs = append(docs, &doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// hashRef is the value stored in the file hash index
type hashRef struct {
	SessionID string `json:"session_id"`
	DocID     string `json:"doc_id"`
}

// SetHashRef implements the Store interface
func (s *BadgerStore) SetHashRef(fileHash, sessionID, docID string) error {
	return s.setJSON(hashKey(fileHash), hashRef{SessionID: sessionID, DocID: docID})
}

// GetHashRef implements the Store interface
func (s *BadgerStore) GetHashRef(fileHash string) (string, string, bool, error) {
	var ref hashRef
	err := s.getJSON(hashKey(fileHash), &ref)
	if errors.Is(err, utils.ErrNotFound) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	return ref.SessionID, ref.DocID, true, nil
}

// --- LogStore ---

// AppendLog implements the Store interface. The sequence counter is read and
// advanced inside the same transaction as the entry write, so sequences stay
// gap-free even under concurrent appends (conflicts retry via dbUpdate).
func (s *BadgerStore) AppendLog(sessionID string, level models.LogLevel, message string) (int, error) {
	seq := 0
	seqKey := []byte(logSeqKey(sessionID))

	err := s.dbUpdate(func(txn *badger.Txn) error {
		seq = 1
		item, errGet := txn.Get(seqKey)
		if errGet == nil {
			errVal := item.Value(func(val []byte) error {
				prev, errConv := strconv.Atoi(string(val))
				if errConv != nil {
					return fmt.Errorf("%w: corrupt log sequence counter for '%s'", utils.ErrParsing, sessionID)
				}
				seq = prev + 1
				return nil
			})
			if errVal != nil {
				return errVal
			}
		} else if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet
		}

		entry := models.LogEntry{
			Seq:       seq,
			Timestamp: time.Now().UTC(),
			Level:     level,
			Message:   message,
		}
		raw, errJSON := json.Marshal(entry)
		if errJSON != nil {
			return fmt.Errorf("%w: marshalling log entry: %w", utils.ErrParsing, errJSON)
		}

		if errSet := txn.SetEntry(badger.NewEntry([]byte(logKey(sessionID, seq)), raw)); errSet != nil {
			return errSet
		}
		return txn.SetEntry(badger.NewEntry(seqKey, []byte(strconv.Itoa(seq))))
	})
	if err != nil {
		s.log.WithField("session_id", sessionID).Errorf("DB Update error in AppendLog: %v", err)
		return 0, fmt.Errorf("%w: appending log for session '%s': %w", utils.ErrDatabase, sessionID, err)
	}
	return seq, nil
}

// GetLogs implements the Store interface
func (s *BadgerStore) GetLogs(sessionID string, sinceSeq int) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := s.scanPrefix(logKeyPrefix+sessionID+":", func(_ string, val []byte) error {
		var entry models.LogEntry
		if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
			s.log.Warnf("Skipping undecodable log entry for session '%s': %v", sessionID, errJSON)
			return nil
		}
		if entry.Seq > sinceSeq {
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are zero-padded so iteration order already matches sequence order
	return entries, nil
}

// scanPrefix iterates all keys with the given prefix, invoking fn with the
// full key and a copy of the value
func (s *BadgerStore) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			val, errVal := item.ValueCopy(nil)
			if errVal != nil {
				return fmt.Errorf("%w: reading value of key '%s': %w", utils.ErrDatabase, key, errVal)
			}
			if errFn := fn(key, val); errFn != nil {
				return errFn
			}
		}
		return nil
	})
	if errView != nil {
		s.log.Errorf("DB View error scanning prefix '%s': %v", prefix, errView)
	}
	return errView
}

// --- StoreAdmin ---

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Info("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
				s.log.Info("BadgerDB GC cycle completed.")
			}

			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Info("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine due to context cancellation: %v", ctx.Err())
			return
		}
	}
}

// Close implements the Store interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing crawl state DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing crawl state DB: %v", err)
			return err
		}
		s.log.Info("Crawl state DB closed.")
		return nil
	}
	s.log.Info("Crawl state DB already closed or was not initialized.")
	return nil
}
