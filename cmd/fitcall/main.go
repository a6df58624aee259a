// fitcall is a headless call client for development and support: it drives
// the same signaling core the app uses, against any configured store backend,
// from a terminal.
//
//	fitcall -config fitness.json dial <user-id>
//	fitcall -config fitness.json join <session-id>
//
// While a call is active, single-letter commands on stdin control it:
// a answer, d decline, e end, m mute, v video, s speaker, c camera, q quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/namithm70/fitnessapp-sub001/internal/call"
	"github.com/namithm70/fitnessapp-sub001/internal/config"
	"github.com/namithm70/fitnessapp-sub001/internal/history"
	"github.com/namithm70/fitnessapp-sub001/internal/media"
	"github.com/namithm70/fitnessapp-sub001/internal/relay"
	"github.com/namithm70/fitnessapp-sub001/internal/session"
	"github.com/namithm70/fitnessapp-sub001/internal/util"
)

var (
	cfgPath = flag.String("config", "fitness.json", "Path to config file (created with defaults when missing)")
	video   = flag.Bool("video", false, "Dial a video call instead of audio")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		usage()
		os.Exit(1)
	}
	command, target := args[0], args[1]

	absPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}
	cfg, created, err := config.Ensure(absPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s — set identity.user_id and re-run", absPath)
		return
	}
	if cfg.Identity.UserID == "" {
		log.Fatalf("identity.user_id is not set in %s", absPath)
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

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Open session store: %v", err)
	}
	defer store.Close()

	coord := call.New(cfg.Identity.UserID, store, func() media.Engine {
		return media.NewPionEngine(cfg.Media.STUNServers)
	})
	defer coord.Close()

	if cfg.History.Enabled {
		// A relative history dir is anchored to the config file, not the cwd.
		histDir := util.ResolvePath(filepath.Dir(absPath), cfg.History.Path)
		hist, err := history.Open(histDir)
		if err != nil {
			log.Printf("WARNING: call history disabled: %v", err)
		} else {
			defer hist.Close()
			coord.SetHistory(hist)
		}
	}

	done := make(chan struct{}, 1)
	coord.OnStatus(func(ch call.StatusChange) {
		fmt.Printf("  [%s] %s\n", ch.SessionID, ch.Status)
		if ch.Status.Terminal() {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	switch command {
	case "dial":
		callType := session.AudioCall
		if *video {
			callType = session.VideoCall
		}
		s, err := coord.Initiate(ctx, target, callType)
		if err != nil {
			log.Fatalf("Dial failed: %v", err)
		}
		fmt.Printf("Dialing %s (%s call), session %s\n", target, callType, s.ID)

	case "join":
		if err := coord.Attach(ctx, target); err != nil {
			log.Fatalf("Join failed: %v", err)
		}
		fmt.Printf("Attached to session %s — press 'a' to answer, 'd' to decline\n", target)

	default:
		usage()
		os.Exit(1)
	}

	go readCommands(ctx, cancel, coord)

	select {
	case <-ctx.Done():
		// Hang up cleanly so the other side is not left ringing.
		hctx, hcancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = coord.End(hctx)
		hcancel()
	case <-done:
		// Terminal status observed; give the teardown a moment to settle.
		time.Sleep(100 * time.Millisecond)
	}
}

// openStore builds the session store the config selects.
func openStore(ctx context.Context, cfg config.Store) (session.Store, error) {
	switch cfg.Backend {
	case "memory":
		return session.NewMemStore(), nil
	case "redis":
		return session.OpenRedisStore(ctx, cfg.RedisAddr, time.Hour)
	case "mongo":
		return session.OpenMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "relay":
		return relay.Dial(ctx, cfg.RelayURL)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func readCommands(ctx context.Context, cancel context.CancelFunc, coord *call.Coordinator) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "a":
			if err := coord.Answer(ctx); err != nil {
				fmt.Printf("answer: %v\n", err)
			}
		case "d":
			if err := coord.Decline(ctx); err != nil {
				fmt.Printf("decline: %v\n", err)
			}
		case "e":
			if err := coord.End(ctx); err != nil {
				fmt.Printf("end: %v\n", err)
			}
		case "m":
			if muted, err := coord.ToggleAudio(); err != nil {
				fmt.Printf("mute: %v\n", err)
			} else {
				fmt.Printf("muted=%v\n", muted)
			}
		case "v":
			if off, err := coord.ToggleVideo(); err != nil {
				fmt.Printf("video: %v\n", err)
			} else {
				fmt.Printf("video off=%v\n", off)
			}
		case "s":
			if on, err := coord.ToggleSpeaker(); err != nil {
				fmt.Printf("speaker: %v\n", err)
			} else {
				fmt.Printf("speaker=%v\n", on)
			}
		case "c":
			if err := coord.SwitchCamera(); err != nil {
				fmt.Printf("camera: %v\n", err)
			}
		case "q":
			cancel()
			return
		case "":
		default:
			fmt.Println("commands: a answer, d decline, e end, m mute, v video, s speaker, c camera, q quit")
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fitcall [-config file] [-video] dial <user-id>")
	fmt.Fprintln(os.Stderr, "  fitcall [-config file] join <session-id>")
}
