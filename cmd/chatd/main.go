// Command chatd runs the chat server.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/twinwire/chat/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.twinwire/chatd.toml", "path to TOML config file")
	host := flag.String("host", "", "interface to listen on (overrides config)")
	port := flag.Int("port", 0, "port to listen on (overrides config)")
	encoding := flag.String("encoding", "", "wire encoding: json or custom (overrides config)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	httpPort := flag.Int("http-port", -1, "HTTP port for /metrics, /health, /ws; 0 disables (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	tomlCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := tomlCfg.ToConfig()

	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *encoding != "" {
		cfg.Encoding = *encoding
	}
	if *httpPort >= 0 {
		cfg.HTTPPort = *httpPort
	}

	databasePath, err := tomlCfg.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if *dbPath != "" {
		databasePath = *dbPath
	}

	srv, err := server.NewServer(databasePath, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
