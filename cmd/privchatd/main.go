// Command privchatd is the message-delivery and synchronization gateway:
// it terminates client WebSocket connections, authenticates devices,
// commits and fans out messages, and serves the sync RPC routes.
//
// Grounded on server/shutdown.go's signal-driven graceful shutdown
// (listenAndServe + signalHandler) and tinode's main.go flag-then-config
// startup sequence, adapted to this module's own config package instead
// of a single hjson blob parsed ad hoc in main.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privchat/privchat/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "generate-config":
			runGenerateConfig(os.Args[2:])
			return
		case "validate-config":
			runValidateConfig(os.Args[2:])
			return
		case "show-config":
			runShowConfig(os.Args[2:])
			return
		}
	}
	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("privchatd", flag.ExitOnError)
	configPath, listenAddr, debugAddr := config.BindFlags(fs)
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("privchatd: %v", err)
	}
	cfg = config.ApplyFlags(cfg, *listenAddr, *debugAddr)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("privchatd: invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := buildServer(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("privchatd: build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("privchatd: server exited: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("privchatd: received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	srv.shutdown(shutdownCtx)
	log.Println("privchatd: shutdown complete")
}

func runGenerateConfig(args []string) {
	fs := flag.NewFlagSet("generate-config", flag.ExitOnError)
	out := fs.String("out", "", "write to this path instead of stdout")
	_ = fs.Parse(args)

	cfg, err := config.Default()
	if err != nil {
		log.Fatalf("privchatd: generate-config: %v", err)
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("privchatd: generate-config: encode: %v", err)
	}
	if *out == "" {
		fmt.Println(string(body))
		return
	}
	if err := os.WriteFile(*out, body, 0o600); err != nil {
		log.Fatalf("privchatd: generate-config: write %s: %v", *out, err)
	}
}

func runValidateConfig(args []string) {
	fs := flag.NewFlagSet("validate-config", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.json (JSON with // comments)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("privchatd: validate-config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("privchatd: validate-config: %v", err)
	}
	fmt.Println("ok")
}

func runShowConfig(args []string) {
	fs := flag.NewFlagSet("show-config", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.json (JSON with // comments)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("privchatd: show-config: %v", err)
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("privchatd: show-config: encode: %v", err)
	}
	fmt.Println(string(body))
}
