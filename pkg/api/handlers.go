package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"policycrawl/pkg/crawl"
	"policycrawl/pkg/models"
	"policycrawl/pkg/utils"
)

// CrawlRequest is the body of POST /api/crawl. Durations arrive in seconds
// because that is what the original clients send.
type CrawlRequest struct {
	SeedURLs           []string `json:"seed_urls"`
	Country            string   `json:"country,omitempty"`
	PolicyTypes        []string `json:"policy_types,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	MaxPages           int      `json:"max_pages,omitempty"`
	MaxDurationSeconds int      `json:"max_duration_seconds,omitempty"`
}

func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	var req CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := s.sessionFromRequest(&req, r.Header.Get("X-User-ID"))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveSession(session); err != nil {
		s.log.Errorf("Persisting new session: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	ctrl := crawl.New(s.crawlDeps, session)
	s.trackController(session.ID, ctrl)

	err = s.registry.Start(session.ID, func(ctx context.Context) {
		ctrl.Run(ctx)
		s.forgetController(session.ID)
	})
	if err != nil {
		s.forgetController(session.ID)
		// A rejected start must not leave a session record behind.
		if _, _, errDel := s.store.DeleteSession(session.ID); errDel != nil {
			s.log.Warnf("Removing session %s after failed start: %v", session.ID, errDel)
		}
		if errors.Is(err, utils.ErrCrawlCapacity) {
			s.respondWithError(w, http.StatusTooManyRequests, "Maximum concurrent crawls reached, try again later")
			return
		}
		s.log.Errorf("Starting session %s: %v", session.ID, err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not start crawl")
		return
	}

	s.log.WithField("session_id", session.ID).Info("Crawl session started")
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{
		"session_id": session.ID,
		"status":     string(models.SessionStatusRunning),
	})
}

// sessionFromRequest validates a crawl request and applies the configured
// defaults and ceilings
func (s *Server) sessionFromRequest(req *CrawlRequest, ownerID string) (*models.CrawlSession, error) {
	if len(req.SeedURLs) == 0 {
		return nil, fmt.Errorf("seed_urls must not be empty")
	}
	for _, seed := range req.SeedURLs {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid seed URL: %s", seed)
		}
	}

	limits := s.cfg.Crawl
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = limits.DefaultMaxPages
	}
	if maxPages > limits.MaxPagesCeiling {
		maxPages = limits.MaxPagesCeiling
	}

	maxDuration := time.Duration(req.MaxDurationSeconds) * time.Second
	if maxDuration <= 0 {
		maxDuration = limits.DefaultMaxDuration
	}
	if maxDuration > limits.MaxDurationCeiling {
		maxDuration = limits.MaxDurationCeiling
	}

	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		country = "AU"
	}

	return &models.CrawlSession{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Country:     country,
		SeedURLs:    req.SeedURLs,
		PolicyTypes: req.PolicyTypes,
		Keywords:    req.Keywords,
		MaxPages:    maxPages,
		MaxDuration: maxDuration,
		Status:      models.SessionStatusPending,
		Phase:       models.PhaseQueued,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// A live controller has fresher state than the last persisted write
	if ctrl := s.controller(sessionID); ctrl != nil {
		s.respondWithJSON(w, http.StatusOK, ctrl.Snapshot())
		return
	}

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Unknown session")
			return
		}
		s.log.Errorf("Loading session %s: %v", sessionID, err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not load session")
		return
	}
	s.respondWithJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(sessionID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Unknown session")
			return
		}
		s.respondWithError(w, http.StatusInternalServerError, "Could not load session")
		return
	}

	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondWithError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	logs, err := s.store.GetLogs(sessionID, since)
	if err != nil {
		s.log.Errorf("Loading logs for %s: %v", sessionID, err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not load logs")
		return
	}

	lastSeq := since
	if len(logs) > 0 {
		lastSeq = logs[len(logs)-1].Seq
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"logs":       logs,
		"last_seq":   lastSeq,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(sessionID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Unknown session")
			return
		}
		s.respondWithError(w, http.StatusInternalServerError, "Could not load session")
		return
	}

	docs, err := s.store.ListDocuments(sessionID)
	if err != nil {
		s.log.Errorf("Loading documents for %s: %v", sessionID, err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not load documents")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"documents":  docs,
		"count":      len(docs),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(sessionID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Unknown session")
			return
		}
		s.respondWithError(w, http.StatusInternalServerError, "Could not load session")
		return
	}

	if !s.registry.Stop(sessionID) {
		s.respondWithError(w, http.StatusConflict, "Session is not running")
		return
	}

	s.log.WithField("session_id", sessionID).Info("Stop requested")
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sessionID,
		"status":     "stopping",
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if s.registry.IsRunning(sessionID) {
		s.respondWithError(w, http.StatusConflict, "Session is still running, stop it first")
		return
	}

	docsDeleted, logsDeleted, err := s.store.DeleteSession(sessionID)
	if err != nil {
		s.log.Errorf("Deleting session %s: %v", sessionID, err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not delete session")
		return
	}
	if err := s.files.RemoveSession(sessionID); err != nil {
		s.log.Warnf("Removing files for %s: %v", sessionID, err)
	}

	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        sessionID,
		"documents_deleted": docsDeleted,
		"logs_deleted":      logsDeleted,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	sessions, err := s.store.ListSessions()
	if err != nil {
		s.log.Errorf("Listing sessions: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not list sessions")
		return
	}

	// An authenticated caller only sees their own sessions.
	if owner := r.Header.Get("X-User-ID"); owner != "" {
		scoped := make([]*models.CrawlSession, 0, len(sessions))
		for _, session := range sessions {
			if session.OwnerID == owner {
				scoped = append(scoped, session)
			}
		}
		sessions = scoped
	}

	total := len(sessions)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	// Running sessions get the live snapshot instead of the stale write
	page := make([]*models.CrawlSession, 0, end-offset)
	for _, session := range sessions[offset:end] {
		if ctrl := s.controller(session.ID); ctrl != nil {
			page = append(page, ctrl.Snapshot())
			continue
		}
		page = append(page, session)
	}

	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": page,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "ok",
		"active_crawls":  s.registry.Len(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}

	// A session list read doubles as a storage liveness probe
	if _, err := s.store.ListSessions(); err != nil {
		s.log.Errorf("Health check storage probe: %v", err)
		health["status"] = "degraded"
		health["storage"] = "unhealthy"
		s.respondWithJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["storage"] = "healthy"
	s.respondWithJSON(w, http.StatusOK, health)
}

// handleReset stops every running crawl and deletes all sessions, documents,
// log streams and stored files. Authorization is the deployment's problem;
// the engine just does the work and reports counts.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.registry.StopAll()

	sessions, err := s.store.ListSessions()
	if err != nil {
		s.log.Errorf("Listing sessions for reset: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "Could not list sessions")
		return
	}

	var sessionsDeleted, docsDeleted, logsDeleted int
	for _, session := range sessions {
		docs, logs, err := s.store.DeleteSession(session.ID)
		if err != nil {
			s.log.Errorf("Deleting session %s during reset: %v", session.ID, err)
			continue
		}
		sessionsDeleted++
		docsDeleted += docs
		logsDeleted += logs
		if err := s.files.RemoveSession(session.ID); err != nil {
			s.log.Warnf("Removing files for %s during reset: %v", session.ID, err)
		}
	}

	s.log.WithField("sessions_deleted", sessionsDeleted).Warn("System reset performed")
	s.respondWithJSON(w, http.StatusOK, map[string]int{
		"sessions_deleted":  sessionsDeleted,
		"documents_deleted": docsDeleted,
		"logs_deleted":      logsDeleted,
	})
}
