// Package server exposes a csvbook workspace as the JSON API behind the
// notebook UI. Every browser gets its own csvbook.Session, keyed by a cookie.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// SessionCookie names the cookie carrying the session id.
const SessionCookie = "csvbook_session"

// Session limits used when Options leaves them zero.
const (
	DefaultSessionTTL  = 12 * time.Hour
	DefaultMaxSessions = 64
)

// Options tunes a Server.
type Options struct {
	// AllowedOrigins are the origins allowed to call the API from another
	// site. Empty serves same-origin requests only. A wildcard origin is
	// served without credentials.
	AllowedOrigins []string
	// SessionTTL evicts sessions idle for longer.
	SessionTTL time.Duration
	// MaxSessions caps live sessions. The least recently used one is evicted
	// to make room.
	MaxSessions int
	// Logger receives request and error logs. Nil discards them.
	Logger *slog.Logger
}

type sessionEntry struct {
	sess     *csvbook.Session
	lastSeen time.Time
}

// Server serves the notebook API of one workspace.
type Server struct {
	ws          *csvbook.Workspace
	logger      *slog.Logger
	origins     []string
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New returns a server over ws.
func New(ws *csvbook.Workspace, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Server{
		ws:          ws,
		logger:      logger,
		origins:     opts.AllowedOrigins,
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
		sessions:    map[string]*sessionEntry{},
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: !slices.ContainsFunc(s.origins, func(o string) bool { return strings.Contains(o, "*") }),
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withSession)

		r.Get("/tables", s.handleListTables)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/", s.handleDescribeTable)
			r.Delete("/", s.handleDropTable)
			r.Put("/schema", s.handleEditSchema)
			r.Get("/export", s.handleExportTable)
		})
		r.Post("/scan", s.handleScan)
		r.Get("/schema", s.handleSchemaTree)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/snapshots/{id}", s.handleLoadSnapshot)
		r.Get("/macros", s.handleMacros)
		r.Post("/query", s.handleQuery)
		r.Post("/completions", s.handleCompletions)

		r.Get("/uploads", s.handleListUploads)
		r.Post("/uploads", s.handleReceiveUpload)
		r.Delete("/uploads", s.handleClearUploads)
		r.Post("/uploads/{name}/quick", s.handleQuickIngest)
		r.Post("/uploads/{name}/commit", s.handleCommitUpload)
		r.Delete("/uploads/{name}", s.handleDiscardUpload)

		r.Get("/notebooks", s.handleListNotebooks)
		r.Post("/notebooks", s.handleCreateNotebook)
		r.Put("/notebooks/current", s.handleSelectNotebook)
		r.Get("/notebooks/{name}", s.handleGetNotebook)
		r.Delete("/notebooks/{name}", s.handleDeleteNotebook)

		r.Post("/cells", s.handleAddCell)
		r.Post("/cells/run", s.handleRunAll)
		r.Put("/cells/{id}", s.handleSetCell)
		r.Delete("/cells/{id}", s.handleDeleteCell)
		r.Post("/cells/{id}/run", s.handleRunCell)

		r.Get("/finder/columns", s.handleCommonColumns)
		r.Post("/finder", s.handleFindCommonValues)
	})
	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"event", "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

type sessionKey struct{}

// withSession attaches the caller's session, creating one and setting the
// cookie when the request carries none or an unknown id.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, newID := s.session(r)
		if newID != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    newID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *Server) session(r *http.Request) (*csvbook.Session, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c, err := r.Cookie(SessionCookie); err == nil {
		if e, ok := s.sessions[c.Value]; ok && now.Sub(e.lastSeen) <= s.ttl {
			e.lastSeen = now
			return e.sess, ""
		}
	}

	s.evict(r.Context(), now)
	id := uuid.NewString()
	sess := csvbook.NewSession(s.ws)
	s.sessions[id] = &sessionEntry{sess: sess, lastSeen: now}
	s.logger.InfoContext(r.Context(), "session started", "event", "session", "session", id)
	return sess, id
}

// evict drops the sessions idle past the TTL, then the least recently used
// ones until a new session fits. Pending uploads of dropped sessions are
// discarded. s.mu must be held.
func (s *Server) evict(ctx context.Context, now time.Time) {
	for id, e := range s.sessions {
		if now.Sub(e.lastSeen) > s.ttl {
			s.dropSession(ctx, id, "expired")
		}
	}
	for len(s.sessions) >= s.maxSessions {
		oldest := ""
		for id, e := range s.sessions {
			if oldest == "" || e.lastSeen.Before(s.sessions[oldest].lastSeen) {
				oldest = id
			}
		}
		s.dropSession(ctx, oldest, "capacity")
	}
}

func (s *Server) dropSession(ctx context.Context, id, reason string) {
	if err := s.sessions[id].sess.ClearUploads(); err != nil {
		s.logger.WarnContext(ctx, "cannot discard uploads of session", "event", "session_warning", "session", id, "error", err)
	}
	delete(s.sessions, id)
	s.logger.InfoContext(ctx, "session ended", "event", "session", "session", id, "reason", reason)
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close discards the pending uploads of every session.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, e := range s.sessions {
		errs = append(errs, e.sess.ClearUploads())
		delete(s.sessions, id)
	}
	return errors.Join(errs...)
}

func sessionFrom(r *http.Request) *csvbook.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*csvbook.Session)
	return sess
}

// pathParam returns the unescaped URL parameter.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

type errorResponse struct {
	Error  string `json:"error"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "event", "http_error", "path", r.URL.Path, "error", err)
	}
	resp := errorResponse{Error: err.Error()}
	var qe *csvbook.QueryError
	if errors.As(err, &qe) {
		resp.Error = qe.Message
		resp.Line = qe.Line
		resp.Column = qe.Column
	}
	writeJSON(w, status, resp)
}

var errBadRequest = errors.New("bad request")

// statusFromError maps workspace errors to HTTP status codes.
func statusFromError(err error) int {
	var qe *csvbook.QueryError
	switch {
	case errors.Is(err, csvbook.ErrTableNotFound),
		errors.Is(err, csvbook.ErrSourceNotFound),
		errors.Is(err, csvbook.ErrUploadNotFound),
		errors.Is(err, csvbook.ErrNotebookNotFound),
		errors.Is(err, csvbook.ErrCellNotFound),
		errors.Is(err, csvbook.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, csvbook.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, csvbook.ErrNotebookExists):
		return http.StatusConflict
	case errors.Is(err, csvbook.ErrIngestion), errors.As(err, &qe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, csvbook.ErrInvalidName),
		errors.Is(err, csvbook.ErrUnsupportedFormat),
		errors.Is(err, csvbook.ErrInvalidFileName),
		errors.Is(err, csvbook.ErrEmptyNotebookName),
		errors.Is(err, csvbook.ErrDefaultNotebook),
		errors.Is(err, csvbook.ErrLastCell),
		errors.Is(err, csvbook.ErrNoCommonColumn),
		errors.Is(err, model.ErrUnsupportedCompression),
		errors.Is(err, engine.ErrUnknownColumn),
		errors.Is(err, engine.ErrNoColumns),
		errors.Is(err, model.ErrDuplicateColumnName),
		errors.Is(err, model.ErrInvalidColumnName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
