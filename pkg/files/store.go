package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/utils"
)

// Store manages downloaded PDF files on disk. Layout is
// <root>/<sessionID>/<docID>.pdf; manually uploaded documents live under
// <root>/uploads/.
type Store struct {
	root        string
	maxFileSize int64
	log         *logrus.Entry
}

// uploadsDir is the session-directory stand-in for documents without a session
const uploadsDir = "uploads"

// NewStore creates a Store rooted at rootDir, creating it if needed.
// maxFileSize bounds any single saved file; 0 disables the cap.
func NewStore(rootDir string, maxFileSize int64, logger *logrus.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving files root %q: %w", utils.ErrFilesystem, rootDir, err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating files root %q: %w", utils.ErrFilesystem, absRoot, err)
	}
	return &Store{
		root:        absRoot,
		maxFileSize: maxFileSize,
		log:         logger.WithField("component", "file_store"),
	}, nil
}

// Root returns the absolute root directory
func (s *Store) Root() string { return s.root }

// DocPath returns the on-disk path for a document. An empty sessionID maps
// to the uploads directory.
func (s *Store) DocPath(sessionID, docID string) string {
	dir := sessionID
	if dir == "" {
		dir = uploadsDir
	}
	return filepath.Join(s.root, utils.SanitizeFilename(dir), utils.SanitizeFilename(docID)+".pdf")
}

// Save streams r into the document's file, computing its SHA-256 on the way
// through. The write is atomic: data lands in a temp file first and is
// renamed into place only on success. Returns the final path, byte count,
// and hex digest. Exceeding the size cap aborts with utils.ErrBodyTooLarge
// and leaves nothing behind.
func (s *Store) Save(sessionID, docID string, r io.Reader) (path string, size int64, hexHash string, err error) {
	finalPath := s.DocPath(sessionID, docID)
	if !s.withinRoot(finalPath) {
		return "", 0, "", fmt.Errorf("%w: refusing path outside files root: %s", utils.ErrFilesystem, finalPath)
	}

	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, "", fmt.Errorf("%w: creating directory %q: %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*.tmp")
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: creating temp file in %q: %w", utils.ErrFilesystem, dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warnf("Failed to remove temp file %s: %v", tmpPath, rmErr)
		}
	}

	hasher := utils.NewSHA256()
	src := r
	if s.maxFileSize > 0 {
		src = io.LimitReader(r, s.maxFileSize+1)
	}

	written, copyErr := io.Copy(io.MultiWriter(tmp, hasher), src)
	if copyErr != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("%w: writing %q: %w", utils.ErrFilesystem, finalPath, copyErr)
	}
	if s.maxFileSize > 0 && written > s.maxFileSize {
		cleanup()
		return "", 0, "", fmt.Errorf("%w: file exceeds %d bytes", utils.ErrBodyTooLarge, s.maxFileSize)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("%w: syncing %q: %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("%w: closing %q: %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("%w: renaming into place %q: %w", utils.ErrFilesystem, finalPath, err)
	}

	s.log.WithFields(logrus.Fields{
		"path":  finalPath,
		"bytes": written,
	}).Debug("Saved document file")
	return finalPath, written, utils.HexDigest(hasher), nil
}

// Open opens a stored document for reading
func (s *Store) Open(sessionID, docID string) (*os.File, error) {
	path := s.DocPath(sessionID, docID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no file for document %q", utils.ErrNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %w", utils.ErrFilesystem, path, err)
	}
	return f, nil
}

// Remove deletes a stored document file. Removing an absent file is not an
// error.
func (s *Store) Remove(sessionID, docID string) error {
	path := s.DocPath(sessionID, docID)
	if !s.withinRoot(path) {
		return fmt.Errorf("%w: refusing path outside files root: %s", utils.ErrFilesystem, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %q: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// RemoveSession deletes a session's whole download directory. Removing an
// absent directory is not an error.
func (s *Store) RemoveSession(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: refusing to remove uploads directory via empty session ID", utils.ErrFilesystem)
	}
	dir := filepath.Join(s.root, utils.SanitizeFilename(sessionID))
	if !s.withinRoot(dir) || dir == s.root {
		return fmt.Errorf("%w: refusing path outside files root: %s", utils.ErrFilesystem, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: removing session directory %q: %w", utils.ErrFilesystem, dir, err)
	}
	return nil
}

// withinRoot reports whether path stays inside the files root
func (s *Store) withinRoot(path string) bool {
	cleaned := filepath.Clean(path)
	return cleaned == s.root || strings.HasPrefix(cleaned, s.root+string(filepath.Separator))
}
