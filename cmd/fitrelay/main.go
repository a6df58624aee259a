// fitrelay runs a standalone call-session relay server. Phones configured
// with store backend "relay" point at this process to exchange call records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/namithm70/fitnessapp-sub001/internal/config"
	"github.com/namithm70/fitnessapp-sub001/internal/relay"
)

var (
	cfgPath = flag.String("config", "fitness.json", "Path to config file (created with defaults when missing)")
	addr    = flag.String("addr", "", "Listen address override, e.g. 0.0.0.0:8788 (default from config)")
	version = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("fitrelay v%s\n", appVersion)
		return
	}

	absPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}

	cfg, created, err := config.Ensure(absPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", absPath)
	}

	listen := *addr
	if listen == "" {
		listen = net.JoinHostPort(cfg.Relay.Bind, strconv.Itoa(cfg.Relay.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	srv := relay.New(listen)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Relay server failed: %v", err)
	}
	log.Printf("Relay serving at %s (health: /healthz, metrics: /metrics)", srv.URL())

	// Pick up config edits while running. The listener itself is bound for
	// the life of the process; a changed relay.bind or relay.port takes
	// effect on the next start.
	go func() {
		err := config.Watch(ctx, absPath, func(next config.Config) {
			if net.JoinHostPort(next.Relay.Bind, strconv.Itoa(next.Relay.Port)) != listen {
				log.Printf("Config reloaded; relay listen address changed, restart to apply")
				return
			}
			log.Printf("Config reloaded from %s", absPath)
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("WARNING: config watch stopped: %v", err)
		}
	}()

	<-ctx.Done()
}
