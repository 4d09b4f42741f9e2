package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Path is where rendezvous sessions live on a relay.
const Path = "/_matrix/client/unstable/org.matrix.msc3886/rendezvous"

const (
	defaultTTL     = 5 * time.Minute
	defaultMaxBody = 64 << 10
)

// ServerConfig tunes a Server. Zero values pick defaults.
type ServerConfig struct {
	// TTL is how long a session lives after it was created.
	TTL time.Duration
	// BaseURL is the externally visible origin used in session URLs. When
	// empty it is taken from the request.
	BaseURL string
	MaxBody int64
	Logger  *slog.Logger
	Now     func() time.Time
}

// maxEntries bounds how many writes a session remembers for readers that
// are behind.
const maxEntries = 16

type entry struct {
	data        []byte
	contentType string
	etag        string
}

// mailbox is a session's recent writes, oldest first. A reader presenting
// an older ETag gets the write after it, so back-to-back writes from one
// device are not lost.
type mailbox struct {
	entries []entry
	expires time.Time
}

func (mb *mailbox) latest() entry { return mb.entries[len(mb.entries)-1] }

// after returns the entry following etag, or the latest one when etag is
// unknown. It reports false when etag is already the latest.
func (mb *mailbox) after(etag string) (entry, bool) {
	for i, e := range mb.entries {
		if e.etag == etag {
			if i == len(mb.entries)-1 {
				return e, false
			}
			return mb.entries[i+1], true
		}
	}
	return mb.latest(), true
}

func (mb *mailbox) push(e entry) {
	mb.entries = append(mb.entries, e)
	if n := len(mb.entries) - maxEntries; n > 0 {
		mb.entries = append(mb.entries[:0:0], mb.entries[n:]...)
	}
}

// Server is an in-memory rendezvous relay. It stores opaque documents per
// session and never looks inside them.
type Server struct {
	cfg    ServerConfig
	log    *slog.Logger
	router *mux.Router

	mu       sync.Mutex
	sessions map[string]*mailbox
}

// NewServer returns a relay with no sessions.
func NewServer(cfg ServerConfig) *Server {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*mailbox),
	}

	r := mux.NewRouter()
	r.HandleFunc(Path, s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc(Path+"/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc(Path+"/{id}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc(Path+"/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.Use(s.accessLog)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Len returns the number of live sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many went.
func (s *Server) Sweep() int {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, mb := range s.sessions {
		if !now.Before(mb.expires) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("expired rendezvous sessions", "count", n)
			}
		}
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	mb := &mailbox{expires: s.cfg.Now().Add(s.cfg.TTL)}
	mb.push(entry{data: body, contentType: r.Header.Get("Content-Type"), etag: newETag()})
	s.mu.Lock()
	s.sessions[id] = mb
	s.mu.Unlock()

	loc := s.baseURL(r) + Path + "/" + id
	s.log.Info("rendezvous session created", "session", id, "expires", mb.expires)
	w.Header().Set("Location", loc)
	setMailboxHeaders(w, mb, mb.latest().etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createResponse{URL: loc})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	mb, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	e, fresh := mb.after(r.Header.Get("If-None-Match"))
	setMailboxHeaders(w, mb, e.etag)
	s.mu.Unlock()

	if !fresh {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if e.contentType != "" {
		w.Header().Set("Content-Type", e.contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	mb, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	if match := r.Header.Get("If-Match"); match != "" && match != mb.latest().etag {
		setMailboxHeaders(w, mb, mb.latest().etag)
		s.mu.Unlock()
		http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
		return
	}
	e := entry{data: body, contentType: r.Header.Get("Content-Type"), etag: newETag()}
	mb.push(e)
	setMailboxHeaders(w, mb, e.etag)
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.log.Info("rendezvous session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// lookup finds the live session named in the path, answering 404 itself.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*mailbox, bool) {
	id := mux.Vars(r)["id"]
	now := s.cfg.Now()
	s.mu.Lock()
	mb, ok := s.sessions[id]
	if ok && !now.Before(mb.expires) {
		delete(s.sessions, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return nil, false
	}
	return mb, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBody))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("relay request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", rec.status,
			"dur", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type createResponse struct {
	URL string `json:"url"`
}

func setMailboxHeaders(w http.ResponseWriter, mb *mailbox, etag string) {
	w.Header().Set("ETag", etag)
	w.Header().Set("Expires", mb.expires.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-store")
}

func newETag() string { return `"` + uuid.NewString() + `"` }
