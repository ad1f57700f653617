package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"craftai/internal/app"
	"craftai/internal/identity"
	"craftai/internal/ratelimit"
	"craftai/internal/uploads"
	"craftai/internal/usertoken"
	"craftai/internal/util"
	"craftai/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Identity                   *identity.Client
	TokenVerifier              *usertoken.Verifier
	Uploads                    *uploads.FileStore
	RedisAddr                  string
	RedisPassword              string
	GenerateRateLimitPerMinute int
	MaxUploadBytes             int64
}

// Server exposes HTTP endpoints for the generation API.
type Server struct {
	app             *app.App
	identity        *identity.Client
	tokenVerifier   *usertoken.Verifier
	uploads         *uploads.FileStore
	mux             *http.ServeMux
	maxUploadBytes  int64
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server requires the application")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("server requires the identity client")
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 30
	}
	generateLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "craftai:ratelimit:generate", generateLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init generate limiter: %w", err)
	}
	fileStore := cfg.Uploads
	if fileStore == nil {
		fileStore, err = uploads.NewFileStore("", nil)
		if err != nil {
			return nil, fmt.Errorf("init upload store: %w", err)
		}
	}
	s := &Server{
		app:             cfg.App,
		identity:        cfg.Identity,
		tokenVerifier:   cfg.TokenVerifier,
		uploads:         fileStore,
		mux:             http.NewServeMux(),
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		generateLimiter: generateLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// generation (auth required, rate limited)
	s.mux.Handle("/api/ai/generate-text", s.authenticated(s.rateLimited(s.handleGenerateText)))
	s.mux.Handle("/api/ai/generate-blog-title", s.authenticated(s.rateLimited(s.handleGenerateBlogTitle)))
	s.mux.Handle("/api/ai/generate-image", s.authenticated(s.rateLimited(s.handleGenerateImage)))
	s.mux.Handle("/api/ai/remove-background", s.authenticated(s.rateLimited(s.handleRemoveBackground)))
	s.mux.Handle("/api/ai/remove-object", s.authenticated(s.rateLimited(s.handleRemoveObject)))

	// creations (auth required)
	s.mux.Handle("/api/user/creations", s.authenticated(s.handleListCreations))
	s.mux.Handle("/api/user/published-creations", s.authenticated(s.handleListPublished))
	s.mux.Handle("/api/user/toggle-like", s.authenticated(s.handleToggleLike))
	s.mux.Handle("/api/user/toggle-publish", s.authenticated(s.handleTogglePublish))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "api.authorize", "fail")
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) rateLimited(next authHandler) authHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		key := r.URL.Path + "|" + user.ID
		if !s.generateLimiter.Allow(key) {
			s.audit(r, "api.generate", "rate_limited", "user_id", user.ID)
			w.Header().Set("Retry-After", "60")
			writeFailure(w, http.StatusTooManyRequests, "too many generation requests")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	if s.tokenVerifier != nil {
		if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
			s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
			return domain.User{}, false
		}
	}
	user, err := s.identity.Me(r.Context(), token)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "identity_me_failed")
		return domain.User{}, false
	}
	return user, true
}

// generation handlers
func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req promptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	creation, err := s.app.GenerateArticle(r.Context(), user, req.Prompt)
	if err != nil {
		s.audit(r, "api.generate.text", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.generate.text", "success", "user_id", user.ID, "creation_id", creation.ID)
	writeContent(w, creation.Content)
}

func (s *Server) handleGenerateBlogTitle(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req promptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	creation, err := s.app.GenerateBlogTitle(r.Context(), user, req.Prompt)
	if err != nil {
		s.audit(r, "api.generate.blog_title", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.generate.blog_title", "success", "user_id", user.ID, "creation_id", creation.ID)
	writeContent(w, creation.Content)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	creation, err := s.app.GenerateImage(r.Context(), user, req.Prompt, req.Publish)
	if err != nil {
		s.audit(r, "api.generate.image", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.generate.image", "success", "user_id", user.ID, "creation_id", creation.ID)
	writeContent(w, creation.Content)
}

func (s *Server) handleRemoveBackground(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	imagePath, cleanup, ok := s.stageUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()
	creation, err := s.app.RemoveBackground(r.Context(), user, imagePath)
	if err != nil {
		s.audit(r, "api.edit.remove_background", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.edit.remove_background", "success", "user_id", user.ID, "creation_id", creation.ID)
	writeContent(w, creation.Content)
}

func (s *Server) handleRemoveObject(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	imagePath, cleanup, ok := s.stageUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()
	object := r.FormValue("object")
	creation, err := s.app.RemoveObject(r.Context(), user, imagePath, object)
	if err != nil {
		s.audit(r, "api.edit.remove_object", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.edit.remove_object", "success", "user_id", user.ID, "creation_id", creation.ID)
	writeContent(w, creation.Content)
}

// stageUpload parses the multipart form and stages the "image" file on disk.
// The returned cleanup deletes the staged file; it runs on success and
// failure alike. A missing file is not an HTTP error here: premium checks
// must run before input validation, so the app sees an empty path.
func (s *Server) stageUpload(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	noop := func() {}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid form data")
		return "", noop, false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", noop, true
	}
	defer file.Close()
	path, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, uploads.ErrUnsupportedType) {
			writeFailure(w, http.StatusBadRequest, "Unsupported file type")
			return "", noop, false
		}
		slog.Error("stage upload failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Something went wrong")
		return "", noop, false
	}
	cleanup := func() {
		if err := s.uploads.Remove(path); err != nil {
			slog.Warn("upload cleanup failed", "path", path, "error", err)
		}
	}
	return path, cleanup, true
}

// creation handlers
func (s *Server) handleListCreations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	creations, err := s.app.ListCreations(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"creations": creations,
	})
}

func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request, user domain.User) {
	_ = user
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	creations, err := s.app.ListPublished(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"creations": creations,
	})
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req creationIDRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	liked, err := s.app.ToggleLike(r.Context(), user.ID, req.ID)
	if err != nil {
		s.audit(r, "api.creation.toggle_like", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	message := "Creation Unliked"
	if liked {
		message = "Creation Liked"
	}
	s.audit(r, "api.creation.toggle_like", "success", "user_id", user.ID, "creation_id", req.ID)
	writeMessage(w, message)
}

func (s *Server) handleTogglePublish(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req creationIDRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	published, err := s.app.TogglePublish(r.Context(), user.ID, req.ID)
	if err != nil {
		s.audit(r, "api.creation.toggle_publish", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	message := "Creation Unpublished"
	if published {
		message = "Creation Published"
	}
	s.audit(r, "api.creation.toggle_publish", "success", "user_id", user.ID, "creation_id", req.ID)
	writeMessage(w, message)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type generateImageRequest struct {
	Prompt  string `json:"prompt"`
	Publish bool   `json:"publish"`
}

type creationIDRequest struct {
	ID string `json:"id"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeContent(w http.ResponseWriter, content string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": content})
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// writeAppError converts application errors into the uniform envelope.
// Policy denials and unknown creation ids are soft failures (HTTP 200);
// non-200 statuses are reserved for malformed input and internal faults.
func writeAppError(w http.ResponseWriter, err error) {
	var verr *app.ValidationError
	switch {
	case errors.Is(err, app.ErrLimitReached):
		writeFailure(w, http.StatusOK, "Limit reached. Upgrade to continue.")
	case errors.Is(err, app.ErrPremiumRequired):
		writeFailure(w, http.StatusOK, "This feature is only available for premium subscriptions")
	case errors.Is(err, app.ErrNotFound):
		writeFailure(w, http.StatusOK, "Creation not found")
	case errors.Is(err, app.ErrForbidden):
		writeFailure(w, http.StatusForbidden, "You can only modify your own creations")
	case errors.As(err, &verr):
		writeFailure(w, http.StatusBadRequest, capitalize(verr.Message))
	default:
		slog.Error("request failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Something went wrong")
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 * 1024 * 1024
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
