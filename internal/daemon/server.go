package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/jcdickinson/implindex/internal/docs"
	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/jcdickinson/implindex/internal/render"
	"github.com/jcdickinson/implindex/internal/rpc"
	"golang.org/x/sync/singleflight"
)

type Server struct {
	db         *db.DB // nil when the journal is disabled
	reg        *implreg.Registry
	renderer   *render.Renderer
	fetcher    docs.Fetcher
	rustdoc    docs.RustdocCache
	cfg        *config.Config
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	fetchCache   map[string]fetchCacheEntry
	fetchCacheMu sync.RWMutex
	fetchGroup   singleflight.Group

	crateCache   map[string]*docs.RustdocCrate
	crateCacheMu sync.RWMutex
}

func NewServer(cfg *config.Config, database *db.DB, socketPath string) *Server {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}

	logger := slog.Default()
	return &Server{
		db:         database,
		reg:        implreg.New(implreg.WithLogger(logger)),
		renderer:   render.New(cfg.Render.LinkBase.String(), logger),
		fetcher:    docs.Fetcher{BaseURL: cfg.DocsRs.BaseURL.String(), UserAgent: cfg.DocsRs.UserAgent},
		rustdoc:    docs.RustdocCache{Dir: config.JSONCacheDir()},
		cfg:        cfg,
		socketPath: socketPath,
		expiration: time.Duration(expSec) * time.Second,
		fetchCache: make(map[string]fetchCacheEntry),
		crateCache: make(map[string]*docs.RustdocCrate),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.withExpReset(s.handleSubmit))
	mux.HandleFunc("POST /fetch", s.withExpReset(s.handleFetch))
	mux.HandleFunc("POST /query", s.withExpReset(s.handleQuery))
	mux.HandleFunc("POST /render", s.withExpReset(s.handleRender))
	mux.HandleFunc("GET /traits", s.withExpReset(s.handleTraits))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /clear-cache", s.withExpReset(s.handleClearCache))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Start replays the journal, binds the socket, attaches the renderer and
// serves until Stop. Fragments submitted before the renderer attaches are
// held by the registry and flushed on attach.
func (s *Server) Start(ctx context.Context) error {
	if n, err := s.replayJournal(); err != nil {
		log.Printf("daemon: journal replay failed after %d fragments: %v", n, err)
	} else if n > 0 {
		log.Printf("daemon: replayed %d journaled fragments", n)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:     s.routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	s.renderer.Attach(s.reg)
	st := s.reg.Stats()
	log.Printf("daemon: renderer attached (%d payloads, %d implementors)", st.Payloads, st.Accepted)

	log.Printf("daemon: listening on %s (expires after %s of inactivity)", s.socketPath, s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("daemon: shutdown error: %v", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("daemon: listener close error: %v", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("daemon: socket remove error: %v", err)
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("daemon: db close error: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	log.Printf("daemon: expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.reg.Stats()
	resp := rpc.StatusResponse{
		Phase:           s.reg.Phase().String(),
		Pending:         s.reg.Pending(),
		Payloads:        st.Payloads,
		Accepted:        st.Accepted,
		Duplicates:      st.Duplicates,
		Malformed:       st.Malformed,
		Traits:          len(s.reg.Traits()),
		RendererUpdates: s.renderer.Updates(),
	}

	if s.db != nil {
		n, err := s.db.CountFragments()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Journal = n

		crates, err := s.db.ListCrates()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, c := range crates {
			resp.Crates = append(resp.Crates, rpc.CrateStatus{
				Name:    c.Name,
				Version: c.Version,
				Fetched: c.FetchedAt != nil,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleClearCache drops the in-memory and on-disk fetch caches. With Journal set it also empties the
// journal so the next daemon starts empty; the live registry keeps its
// entries.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var req rpc.ClearCacheRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.clearFetchCache()
	if err := s.rustdoc.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("daemon: fetch cache cleared")

	if req.Journal {
		if err := s.clearJournal(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Printf("daemon: journal cleared")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
