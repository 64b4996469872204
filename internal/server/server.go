package server

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"mafia-night/internal/config"
	"mafia-night/internal/store"
)

type Server struct {
	store     store.Store
	cfg       config.Config
	ws        *wsHub
	rngMu     sync.Mutex
	rng       *rand.Rand
	runnersMu sync.Mutex
	runners   map[string]*runner
	stop      chan struct{}
	stopOnce  sync.Once
}

func New(st store.Store, cfg config.Config) *Server {
	return &Server{
		store:   st,
		cfg:     cfg,
		ws:      newWSHub(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		runners: make(map[string]*runner),
		stop:    make(chan struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/", s.handleSessionSubroutes)
	mux.HandleFunc("POST /api/sessions/", s.handleSessionSubroutes)
	mux.HandleFunc("GET /ws/sessions/", s.handleWebsocket)
	return mux
}

// Run starts the background coordinator ticker. It returns when Close is
// called. Only meaningful when the server itself coordinates sessions.
func (s *Server) Run() {
	if !s.cfg.ServerCoordinates {
		return
	}
	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tickAll()
		}
	}
}

// Close stops the background ticker.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func timeNowUTC() time.Time {
	return time.Now().UTC()
}
