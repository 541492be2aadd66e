// Package server exposes the HTTP surface: cover identification, book facts,
// automation sessions and their status polls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/books"
	"github.com/local/bookfetcher/internal/capture"
	"github.com/local/bookfetcher/internal/config"
	"github.com/local/bookfetcher/internal/extract"
	"github.com/local/bookfetcher/internal/identify"
	"github.com/local/bookfetcher/internal/metrics"
	"github.com/local/bookfetcher/internal/ocr"
	"github.com/local/bookfetcher/internal/statuscheck"
	"github.com/local/bookfetcher/internal/store"
)

// Archiver persists finished sessions. Optional.
type Archiver interface {
	ArchiveSession(ctx context.Context, sessionID string, result []byte, imagePaths []string) error
}

// PreviewLookup resolves a title/author pair to a browsable preview.
type PreviewLookup interface {
	FindPreview(ctx context.Context, title, author string) (books.Volume, error)
}

// Dependencies wires the server to the rest of the service.
type Dependencies struct {
	Cfg        config.Config
	Sessions   store.Sessions
	Identifier *identify.Identifier
	Books      PreviewLookup
	Classifier extract.Classifier
	Engine     ocr.Engine
	Archive    Archiver
	Checker    *statuscheck.Checker
}

// Server handles all HTTP routes.
type Server struct {
	deps Dependencies

	// newCapturer is swappable in tests.
	newCapturer func(ctx context.Context, previewRef, sessionDir string) (extract.Capturer, func() error, error)
}

func New(deps Dependencies) *Server {
	s := &Server{deps: deps}
	s.newCapturer = s.buildCapturer
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/identify-book", s.handleIdentify)
	mux.HandleFunc("/generate-book-facts", s.handleFacts)
	mux.HandleFunc("/start-automation", s.handleStartAutomation)
	mux.HandleFunc("/automation-status/", s.handleStatus)
	mux.HandleFunc("/screenshot/", s.handleScreenshot)
	mux.HandleFunc("/status-summary", s.handleStatusSummary)
	mux.Handle("/metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "bookfetcher",
		"status":  "running",
	})
}

type identifyReq struct {
	Image string `json:"image"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req identifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "missing image")
		return
	}

	book, err := s.deps.Identifier.FromCover(r.Context(), req.Image)
	switch {
	case errors.Is(err, identify.ErrNotBookCover):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":            "not_a_book_cover",
			"not_a_book_cover": true,
		})
		return
	case errors.Is(err, identify.ErrBadImage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "identification failed")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

type factsReq struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req factsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing title")
		return
	}
	facts := s.deps.Identifier.Facts(r.Context(), identify.Book{Title: req.Title, Author: req.Author})
	writeJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
}

type startReq struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	PreviewURL string `json:"preview_url"`
	PDFURL     string `json:"pdf_url"`
}

type startResp struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleStartAutomation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title == "" && req.PreviewURL == "" && req.PDFURL == "" {
		writeError(w, http.StatusBadRequest, "missing title or preview reference")
		return
	}

	sessionID := uuid.NewString()
	start := time.Now()
	if err := s.deps.Sessions.Set(r.Context(), sessionID, store.Session{
		Status:      "pending",
		Description: "Session accepted",
		Start:       &start,
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	log.Info().Str("session_id", sessionID).Str("title", req.Title).Msg("automation session created")

	go s.runSession(sessionID, req)

	writeJSON(w, http.StatusAccepted, startResp{SessionID: sessionID, Status: "pending"})
}

// runSession is the background body of one automation session.
func (s *Server) runSession(sessionID string, req startReq) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Cfg.Extraction.SessionTimeout)
	defer cancel()

	update := func(sess store.Session) {
		if err := s.deps.Sessions.Set(ctx, sessionID, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("session status update failed")
		}
	}
	// Terminal writes must land even when the session context has already
	// expired, otherwise a timed-out session stays "running" forever.
	finish := func(sess store.Session) {
		fctx, fcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer fcancel()
		if err := s.deps.Sessions.Set(fctx, sessionID, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("final session update failed")
		}
	}
	fail := func(msg string) {
		end := time.Now()
		finish(store.Session{Status: "error", Error: msg, End: &end})
		metrics.IncSession("failed")
		log.Error().Str("session_id", sessionID).Str("reason", msg).Msg("session failed")
	}

	previewRef := req.PDFURL
	if previewRef == "" {
		previewRef = req.PreviewURL
	}
	if previewRef == "" {
		update(store.Session{Status: "running", Step: "lookup", Description: "Looking up preview"})
		vol, err := s.deps.Books.FindPreview(ctx, req.Title, req.Author)
		if err != nil {
			fail(err.Error())
			return
		}
		previewRef = vol.PreviewLink
	}

	sessionDir := filepath.Join(s.deps.Cfg.Extraction.WorkDir, "sessions", sessionID)
	capturer, closeCapturer, err := s.newCapturer(ctx, previewRef, sessionDir)
	if err != nil {
		fail(fmt.Sprintf("capture setup failed: %v", err))
		return
	}
	defer closeCapturer()

	update(store.Session{Status: "running", Step: "capture", Description: "Extracting preview pages"})

	coord := extract.New(capturer, s.deps.Engine, s.deps.Classifier, extract.Options{
		MaxPages:         s.deps.Cfg.Extraction.MaxPages,
		CheckInterval:    s.deps.Cfg.Extraction.CheckInterval,
		MinAnalysisPages: s.deps.Cfg.Extraction.MinAnalysisPages,
		OCRConcurrency:   s.deps.Cfg.Extraction.OCRConcurrency,
		Progress: func(step, description string) {
			update(store.Session{Status: "running", Step: step, Description: description})
		},
	})
	result := coord.Run(ctx)

	payload, err := json.Marshal(result)
	if err != nil {
		fail(fmt.Sprintf("result encoding failed: %v", err))
		return
	}

	end := time.Now()
	sess := store.Session{Result: payload, End: &end}
	if result.Success {
		sess.Status = "complete"
		sess.Description = "Extraction finished"
		if result.SelectedImagePath != "" {
			sess.Screenshot = screenshotRef(s.deps.Cfg.Extraction.WorkDir, result.SelectedImagePath)
		}
	} else {
		sess.Status = "error"
		sess.Error = result.Error
	}
	finish(sess)
	log.Info().
		Str("session_id", sessionID).
		Bool("success", result.Success).
		Int("pages", result.PagesExtracted).
		Str("classification", result.Classification).
		Msg("session finished")

	if s.deps.Archive != nil && result.Success {
		images := make([]string, 0, len(result.AllPages))
		if result.SelectedImagePath != "" {
			images = append(images, result.SelectedImagePath)
		}
		actx, acancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer acancel()
		if err := s.deps.Archive.ArchiveSession(actx, sessionID, payload, images); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("session archiving failed")
		}
	}
}

// buildCapturer picks PDF rendering for PDF references and falls back to the
// browser-automation script for everything else.
func (s *Server) buildCapturer(ctx context.Context, previewRef, sessionDir string) (extract.Capturer, func() error, error) {
	if isPDFRef(previewRef) {
		pdf, err := capture.OpenPDF(ctx, previewRef, sessionDir)
		if err != nil {
			return nil, nil, err
		}
		return pdf, pdf.Close, nil
	}
	script, err := capture.StartScript(ctx, s.deps.Cfg.Extraction.ScriptPath, previewRef, sessionDir)
	if err != nil {
		return nil, nil, err
	}
	return script, script.Close, nil
}

func isPDFRef(ref string) bool {
	if i := strings.Index(ref, "?"); i >= 0 {
		ref = ref[:i]
	}
	return strings.HasSuffix(strings.ToLower(ref), ".pdf")
}

// screenshotRef converts an absolute image path into the relative reference
// served by /screenshot/.
func screenshotRef(workDir, imagePath string) string {
	rel, err := filepath.Rel(filepath.Join(workDir, "sessions"), imagePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/automation-status/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, ok, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleScreenshot serves captured page images from the sessions work dir.
// The reference is <session-id>/<filename>.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/screenshot/")
	root := filepath.Join(s.deps.Cfg.Extraction.WorkDir, "sessions")
	full := filepath.Join(root, filepath.FromSlash(ref))

	// reject traversal outside the sessions root
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid screenshot path")
		return
	}
	if _, err := os.Stat(full); err != nil {
		writeError(w, http.StatusNotFound, "screenshot not found")
		return
	}
	http.ServeFile(w, r, full)
}

func (s *Server) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeError(w, http.StatusNotFound, "status checks not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.Summary(r.Context()))
}
