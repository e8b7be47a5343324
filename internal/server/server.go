// Package server exposes the dashboard over HTTP. Every browser page holds
// one server-side dashboard session, addressed by cookie or X-Session-Id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mathgamified/internal/app"
	"mathgamified/internal/docstore"
	"mathgamified/internal/identity"
	"mathgamified/internal/loader"
	"mathgamified/internal/ratelimit"
	"mathgamified/internal/util"
	"mathgamified/internal/view"
)

const sessionCookie = "dashboard_session"

const defaultIdleTimeout = 30 * time.Minute

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr     string
	RedisPassword string

	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int

	SessionIdleTimeout time.Duration
	TrustedProxies     *util.TrustedProxies
}

// Server exposes HTTP endpoints for the dashboard.
type Server struct {
	app *app.App
	mux *http.ServeMux

	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	trusted         *util.TrustedProxies
	idleTimeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*app.DashboardSession
}

// New constructs the server with routes configured. Rate limiting is active
// only when a Redis address is configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	idleTimeout := cfg.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	s := &Server{
		app:         cfg.App,
		mux:         http.NewServeMux(),
		trusted:     cfg.TrustedProxies,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*app.DashboardSession),
	}
	if cfg.RedisAddr != "" {
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "mathgamified:dashboard:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
		if s.registerLimiter, err = newLimiter("register", registerLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the ambient middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(
		util.WithRequestLog("dashboard", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// page sessions
	s.mux.HandleFunc("/api/session", s.handleSession)

	// auth
	s.mux.Handle("/api/auth/login", s.withSession(s.handleLogin))
	s.mux.Handle("/api/auth/register", s.withSession(s.handleRegister))
	s.mux.Handle("/api/auth/logout", s.withSession(s.handleLogout))
	s.mux.Handle("/api/me", s.withSession(s.handleMe))

	// views
	s.mux.Handle("/api/view", s.withSession(s.handleViewState))
	s.mux.Handle("/api/views/", s.withSession(s.handleShowView))

	// data (auth required)
	s.mux.Handle("/api/threads", s.authenticated(s.handleThreads))
	s.mux.Handle("/api/threads/", s.authenticated(s.handleThreadByID))
	s.mux.Handle("/api/leaderboard", s.authenticated(s.handleLeaderboard))
	s.mux.Handle("/api/quizzes", s.authenticated(s.handleQuizzes))
	s.mux.Handle("/api/quizzes/", s.authenticated(s.handleQuizByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session wrappers
type sessionHandler func(http.ResponseWriter, *http.Request, *app.DashboardSession)

type authedHandler func(http.ResponseWriter, *http.Request, *app.DashboardSession, identity.Identity)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ses, ok := s.session(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "page session required")
			return
		}
		ses.Touch()
		next(w, r, ses)
	})
}

func (s *Server) authenticated(next authedHandler) http.Handler {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
		id, ok := ses.Identity()
		if !ok {
			s.audit(r, "dashboard.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ses, id)
	})
}

func (s *Server) session(r *http.Request) (*app.DashboardSession, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Session-Id"))
	if id == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ses, ok := s.sessions[id]
	return ses, ok
}

// page session lifecycle
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSessionOpen(w, r)
	case http.MethodDelete:
		s.handleSessionClose(w, r)
	default:
		methodNotAllowed(w)
	}
}

type sessionOpenRequest struct {
	Path  string `json:"path"`
	Query string `json:"query"`
}

type sessionOpenResponse struct {
	SessionID string `json:"sessionId"`
	Redirect  string `json:"redirect,omitempty"`
}

func (s *Server) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req sessionOpenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	query, err := url.ParseQuery(strings.TrimPrefix(req.Query, "?"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query string")
		return
	}
	id := util.NewID()
	ses := s.app.NewSession(id, app.Entry{Path: req.Path, Query: query})
	s.mu.Lock()
	s.sessions[id] = ses
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	resp := sessionOpenResponse{SessionID: id}
	if target, ok := ses.ConsumeRedirect(); ok {
		resp.Redirect = target
	}
	util.LoggerFromContext(r.Context()).Info("dashboard session opened",
		"session", id, "path", req.Path, "redirect", resp.Redirect)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	ses, ok := s.session(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mu.Lock()
	delete(s.sessions, ses.ID)
	s.mu.Unlock()
	ses.Close()
	w.WriteHeader(http.StatusNoContent)
}

// SweepIdleSessions closes sessions without activity past the idle timeout.
// It blocks until ctx is done; run it in its own goroutine.
func (s *Server) SweepIdleSessions(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(time.Now())
		}
	}
}

func (s *Server) sweepOnce(now time.Time) {
	s.mu.Lock()
	expired := make([]*app.DashboardSession, 0)
	for id, ses := range s.sessions {
		if now.Sub(ses.IdleSince()) > s.idleTimeout {
			expired = append(expired, ses)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, ses := range expired {
		slog.Info("dashboard session expired", "session", ses.ID)
		ses.Close()
	}
}

// auth handlers
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type identityResponse struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Redirect string `json:"redirect,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "dashboard.login") {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "dashboard.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ses.SignIn(r.Context(), req.Email, req.Password); err != nil {
		s.audit(r, "dashboard.login", "fail", "reason", reason(err))
		s.writeAppError(w, err)
		return
	}
	id, _ := ses.Identity()
	s.audit(r, "dashboard.login", "success", "uid", id.UID)
	writeJSON(w, http.StatusOK, identityResponse{UID: id.UID, Email: id.Email})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "dashboard.register") {
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "dashboard.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ses.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword); err != nil {
		s.audit(r, "dashboard.register", "fail", "reason", reason(err))
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "dashboard.register", "success")
	resp := map[string]string{}
	if target, ok := ses.ConsumeRedirect(); ok {
		resp["redirect"] = target
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if id, ok := ses.Identity(); ok {
		s.audit(r, "dashboard.logout", "success", "uid", id.UID)
	}
	ses.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := ses.Identity()
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{UID: id.UID, Email: id.Email})
}

// view handlers
type viewStateResponse struct {
	Active string      `json:"active"`
	Header view.Header `json:"header"`
}

func (s *Server) handleViewState(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, viewStateResponse{
		Active: ses.Views().ActiveView(),
		Header: ses.Views().Header(),
	})
}

func (s *Server) handleShowView(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/views/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	// Unknown names are a deliberate no-op; the current state is returned
	// either way.
	ses.Views().ShowView(name)
	writeJSON(w, http.StatusOK, viewStateResponse{
		Active: ses.Views().ActiveView(),
		Header: ses.Views().Header(),
	})
}

// data handlers
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession, _ identity.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	threads, err := s.app.Threads.Load(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": threads, "count": len(threads)})
}

func (s *Server) handleThreadByID(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession, id identity.Identity) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	threadID, sub, _ := strings.Cut(rest, "/")
	if threadID == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		detail, err := s.app.Threads.Detail(r.Context(), threadID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		ses.Views().ShowView(view.ThreadDetail)
		writeJSON(w, http.StatusOK, detail)
	case sub == "comments" && r.Method == http.MethodPost:
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := s.app.Threads.PostComment(r.Context(), threadID, id, req.Message)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession, _ identity.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.Leaderboard.Load(r.Context(), r.URL.Query().Get("grade"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) handleQuizzes(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession, id identity.Identity) {
	switch r.Method {
	case http.MethodGet:
		quizzes, err := s.app.Quizzes.List(r.Context(), id.UID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		q := r.URL.Query()
		quizzes = loader.FilterQuizzes(quizzes, q.Get("search"), q.Get("difficulty"))
		writeJSON(w, http.StatusOK, map[string]any{"items": quizzes, "count": len(quizzes)})
	case http.MethodPost:
		var in loader.QuizInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		quiz, err := s.app.Quizzes.Create(r.Context(), id.UID, in)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, quiz)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleQuizByID(w http.ResponseWriter, r *http.Request, ses *app.DashboardSession, id identity.Identity) {
	quizID := strings.TrimPrefix(r.URL.Path, "/api/quizzes/")
	if quizID == "" || strings.Contains(quizID, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		quiz, err := s.app.Quizzes.Get(r.Context(), id.UID, quizID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	case http.MethodPut:
		var in loader.QuizInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		quiz, err := s.app.Quizzes.Update(r.Context(), id.UID, quizID, in)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	case http.MethodDelete:
		if err := s.app.Quizzes.Delete(r.Context(), id.UID, quizID); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// helpers
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(s.clientIP(r)) {
		return true
	}
	s.audit(r, event, "rate_limited")
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
	return false
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var verr loader.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var cerr *identity.CredentialError
	if errors.As(err, &cerr) {
		status := http.StatusUnauthorized
		if cerr.Category == identity.CategoryRateLimited {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, cerr.Error())
		return
	}
	switch {
	case errors.Is(err, app.ErrPasswordMismatch), errors.Is(err, loader.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnregisteredAccount), errors.Is(err, app.ErrAccountMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusBadGateway, app.ErrBackendUnavailable.Error())
	}
}

// reason condenses an error for audit logs without leaking user input.
func reason(err error) string {
	var cerr *identity.CredentialError
	if errors.As(err, &cerr) {
		return string(cerr.Category)
	}
	switch {
	case errors.Is(err, app.ErrUnregisteredAccount):
		return "unregistered_account"
	case errors.Is(err, app.ErrAccountMismatch):
		return "account_mismatch"
	case errors.Is(err, app.ErrPasswordMismatch):
		return "password_mismatch"
	default:
		return "backend_error"
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
