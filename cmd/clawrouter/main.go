package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BlockRunAI/ClawRouter/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `clawrouter: local HTTP reverse proxy for the BlockRun inference marketplace

Usage:
  clawrouter [flags]

Flags:
  --version, -v   print version and exit
  --help, -h      print this help and exit
  --port N        listen on port N (overrides BLOCKRUN_PROXY_PORT)
`

func main() {
	var (
		showVersion bool
		showHelp    bool
		port        int
	)
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.BoolVar(&showVersion, "v", false, "print version and exit")
	flag.BoolVar(&showHelp, "help", false, "print help and exit")
	flag.BoolVar(&showHelp, "h", false, "print help and exit")
	flag.IntVar(&port, "port", 0, "listen port, overrides BLOCKRUN_PROXY_PORT")
	flag.Usage = func() { fmt.Print(usage) }
	flag.Parse()

	if showHelp {
		fmt.Print(usage)
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("clawrouter version %s\n", version)
		os.Exit(0)
	}
	if port != 0 {
		_ = os.Setenv("BLOCKRUN_PROXY_PORT", fmt.Sprintf("%d", port))
	}

	log.Printf("clawrouter version %s", version)
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		log.Printf("server init error: %v", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      150 * time.Second, // above the 120s per-request deadline
	}
	srv.SetHTTPServer(httpServer)

	listenErr := make(chan error, 1)
	go func() {
		log.Printf("clawrouter listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-listenErr:
		log.Printf("listen error: %v", err)
		os.Exit(1)
	case <-stop:
		log.Printf("shutting down (draining in-flight requests)...")
	}

	if err := srv.Close(); err != nil {
		log.Printf("server close error: %v", err)
	}
	log.Printf("shutdown complete")
	os.Exit(0)
}
