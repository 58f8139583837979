package server

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/twinwire/chat/pkg/database"
	"github.com/twinwire/chat/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on debug output to stderr.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Config holds the resolved server configuration.
type Config struct {
	Host              string
	Port              int
	Encoding          string // "json" or "custom"
	HTTPPort          int    // /metrics, /health, /ws (0 = disabled)
	MaxMessageLength  int
	DefaultFetchLimit int
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              5555,
		Encoding:          "custom",
		HTTPPort:          9090,
		MaxMessageLength:  4096,
		DefaultFetchLimit: 10,
	}
}

// ToConfig converts the TOML file layer to the resolved runtime config.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()
	if c.Server.Host != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	if c.Server.Encoding != "" {
		cfg.Encoding = c.Server.Encoding
	}
	cfg.HTTPPort = c.Server.HTTPPort
	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.DefaultFetchLimit != 0 {
		cfg.DefaultFetchLimit = c.Limits.DefaultFetchLimit
	}
	return cfg
}

// Server accepts chat connections and routes messages between sessions.
type Server struct {
	db       *database.DB
	registry *Registry
	codec    protocol.Codec
	config   Config
	metrics  *Metrics

	listener   net.Listener
	httpServer *http.Server
	shutdown   chan struct{}
	wg         sync.WaitGroup
	startTime  time.Time
}

// NewServer creates a new server instance
func NewServer(dbPath string, config Config) (*Server, error) {
	codec, err := protocol.New(config.Encoding)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	metrics := NewMetrics()
	return &Server{
		db:        db,
		registry:  NewRegistry(metrics),
		codec:     codec,
		config:    config,
		metrics:   metrics,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// Start begins listening for connections. It returns once the listeners are
// bound; connection handling runs in background goroutines.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("Chat server listening on %s (%s encoding)", listener.Addr(), s.codec.Name())

	// Internal HTTP server: metrics, health, websocket bridge
	if s.config.HTTPPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/health", s.healthHandler)
		mux.HandleFunc("/ws", s.handleWebSocket)
		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort),
			Handler: mux,
		}
		go func() {
			log.Printf("HTTP server listening on %s (/metrics, /health, /ws)", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errorLog.Printf("HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the address the chat listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}

	// Close all client connections so their handlers unwind
	for _, sess := range s.registry.Snapshot() {
		sess.Conn.Close()
	}

	s.wg.Wait()
	return s.db.Close()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

// handleConnection sets up a connection and runs its message loop.
func (s *Server) handleConnection(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	s.metrics.RecordConnection()
	debugLog.Printf("New connection from %s", conn.RemoteAddr())

	h := newHandler(s, NewSafeConn(conn))
	h.run()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d,"uptime_seconds":%d}`,
		s.registry.Count(), int64(time.Since(s.startTime).Seconds()))
}
