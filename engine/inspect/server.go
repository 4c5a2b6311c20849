package inspect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

var ErrQueryTimeout = errors.New("inspector query was not served by the main loop in time")

type query struct {
	fn   func()
	done chan struct{}
}

/**
 * @brief Read only HTTP view of the animation systems. Anything that walks
 * clip contents is queued and answered from Update on the main loop, since
 * heap compaction rewrites controller data there.
 */
type Server struct {
	Address      string
	QueryTimeout time.Duration

	systems      *systems.SystemManager
	assetManager *assets.AssetManager
	router       *mux.Router

	queries chan query

	mutex    sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewServer(address string, sm *systems.SystemManager, am *assets.AssetManager) (*Server, error) {
	if sm == nil || sm.AnimationSystem == nil || sm.StreamEngine == nil {
		return nil, fmt.Errorf("func NewServer - animation systems are required: %w", core.ErrNotInitialized)
	}
	if am == nil {
		return nil, fmt.Errorf("func NewServer - asset manager is required: %w", core.ErrNotInitialized)
	}
	s := &Server{
		Address:      address,
		QueryTimeout: 2 * time.Second,
		systems:      sm,
		assetManager: am,
		queries:      make(chan query, 16),
	}

	r := mux.NewRouter()
	r.HandleFunc("/json/animations", s.HandlerAnimations)
	r.HandleFunc("/json/animations/{id}", s.HandlerAnimation)
	r.HandleFunc("/dump/animations/{id}", s.HandlerDumpAnimation)
	r.HandleFunc("/json/heap", s.HandlerHeap)
	r.HandleFunc("/json/metrics", s.HandlerMetrics)
	r.HandleFunc("/json/streams", s.HandlerStreams)
	r.HandleFunc("/json/assets", s.HandlerAssets)
	s.router = r
	return s, nil
}

// Router returns the routes wrapped with panic recovery and request logging.
func (s *Server) Router() http.Handler {
	h := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(s.router)
	return handlers.LoggingHandler(core.LogWriter(), h)
}

// Start listens on Address and serves in the background.
func (s *Server) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.server != nil {
		return fmt.Errorf("inspector already serving on %s", s.listener.Addr())
	}
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("inspector failed to listen on %s: %w", s.Address, err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}

	core.LogInfo("[inspect] Starting server %v", ln.Addr())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.LogError("inspector stopped: %v", err)
		}
	}(s.server)
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return s.Address
	}
	return s.listener.Addr().String()
}

// Update answers the queued queries. Call it from the loop that updates the animation system.
func (s *Server) Update() int {
	n := 0
	for {
		select {
		case q := <-s.queries:
			q.fn()
			close(q.done)
			n++
		default:
			return n
		}
	}
}

// onMainThread runs fn from Update and waits for it.
func (s *Server) onMainThread(ctx context.Context, fn func()) error {
	timer := time.NewTimer(s.QueryTimeout)
	defer timer.Stop()

	q := query{fn: fn, done: make(chan struct{})}
	select {
	case s.queries <- q:
	case <-timer.C:
		return ErrQueryTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-q.done:
		return nil
	case <-timer.C:
		return ErrQueryTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	srv := s.server
	s.server = nil
	s.mutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	core.LogError("inspector panic: %v", fmt.Sprint(v...))
}
