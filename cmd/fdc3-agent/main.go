// fdc3-agent runs a standalone FDC3 2.2 Desktop Agent broker.
//
// Configuration via environment variables, or a YAML file passed as the
// sole argument:
//
//	FDC3_LISTEN_ADDR         — HTTP/WebSocket listen address
//	FDC3_APP_DIRECTORY_URL   — base URL of the app directory
//	FDC3_AUDIT_DSN           — optional Postgres DSN for the audit log
//
// Usage:
//
//	FDC3_LISTEN_ADDR=:4300 \
//	FDC3_APP_DIRECTORY_URL=https://directory.example.com \
//	  go run ./cmd/fdc3-agent
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"

	fdc3 "github.com/fdc3agent/broker"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg := fdc3.AgentConfig{}
	if len(os.Args) > 1 {
		loaded, err := fdc3.LoadConfigFile(os.Args[1])
		if err != nil {
			log.Fatalf("LoadConfigFile: %v", err)
		}
		cfg = loaded
	}
	// Without a config file, apply the same environment fallbacks the
	// agent applies internally, so the values used below match its own.
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = os.Getenv("FDC3_LISTEN_ADDR")
	}
	if cfg.AppDirectoryURL == "" {
		cfg.AppDirectoryURL = os.Getenv("FDC3_APP_DIRECTORY_URL")
	}
	if cfg.AuditDSN == "" {
		cfg.AuditDSN = os.Getenv("FDC3_AUDIT_DSN")
	}

	reg := prometheus.NewRegistry()
	metrics := fdc3.NewMetrics(reg)

	opts := []fdc3.AgentOption{fdc3.WithMetrics(metrics)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.AuditDSN != "" {
		audit, err := fdc3.NewAuditLog(ctx, cfg.AuditDSN)
		if err != nil {
			log.Fatalf("NewAuditLog: %v", err)
		}
		opts = append(opts, fdc3.WithAuditLog(audit))
	}

	agent, err := fdc3.NewRootAgent(cfg, fdc3.LogErrors(log.Default()), opts...)
	if err != nil {
		log.Fatalf("NewRootAgent: %v", err)
	}
	defer agent.Close()

	srv := fdc3.NewServer(agent, reg)

	go func() {
		<-ctx.Done()
		log.Println("shutting down")
	}()

	log.Printf("fdc3 broker listening on %s (directory=%s)", cfg.ListenAddr, cfg.AppDirectoryURL)
	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}
