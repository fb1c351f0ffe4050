package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/halvard-systems/relaydns/internal/log"
	"github.com/halvard-systems/relaydns/internal/proxy"
)

func main() {
	var (
		logFile    = flag.String("log-file", "", "log `path` to additionally write to, rotated via lumberjack")
		verbose    = flag.Bool("verbose", false, "enable debug-level logging")
		listenAddr = flag.String("listen-addr", "0.0.0.0", "address to listen for client queries on")
		timeout    = flag.Duration("timeout", proxy.DefaultTimeout, "how long to wait for an upstream reply before giving up")
		sweep      = flag.Duration("sweep-interval", proxy.DefaultSweepInterval, "how often the maintenance sweep runs")
		cacheOn    = flag.Bool("cache", false, "serve repeated queries for the same name from an in-memory cache")
	)

	flag.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			`Usage: %s [options] [listen_port [upstream_addr [upstream_port]]]

With no arguments, listens on :%d and forwards to %s:%d.

Options:
`,
			os.Args[0],
			proxy.DefaultListenPort,
			proxy.DefaultUpstreamAddr,
			proxy.DefaultUpstreamPort,
		)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := log.Init(log.Config{
		File:       *logFile,
		Verbose:    *verbose,
		MaxAge:     2,
		MaxSize:    10,
		MaxBackups: 100,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "log init error:", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Logger.Sync()
	}()

	cfg, err := parseConfig(flag.Args())
	if err != nil {
		log.Sugar.Errorf("%v", err)
		flag.Usage()
		os.Exit(2)
	}
	cfg.ListenAddr = net.ParseIP(*listenAddr)
	cfg.Timeout = *timeout
	cfg.SweepInterval = *sweep
	cfg.CacheEnabled = *cacheOn

	coordinator, err := proxy.New(cfg)
	if err != nil {
		log.Sugar.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	coordinator.Start()

	waitForShutdownSignal()
	coordinator.Shutdown()
}

// parseConfig turns the positional arguments described in the usage string,
// [listen_port [upstream_addr [upstream_port]]], into a proxy.Config. Each
// position is optional but later positions only make sense once earlier ones
// are given, matching the CLI's documented defaults of 53/8.8.8.8/53.
func parseConfig(args []string) (proxy.Config, error) {
	cfg := proxy.Config{
		ListenPort:   proxy.DefaultListenPort,
		UpstreamHost: proxy.DefaultUpstreamAddr,
		UpstreamPort: proxy.DefaultUpstreamPort,
	}

	if len(args) > 3 {
		return cfg, fmt.Errorf("too many arguments")
	}

	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return cfg, fmt.Errorf("listen_port: %w", err)
		}
		cfg.ListenPort = port
	}
	if len(args) >= 2 {
		cfg.UpstreamHost = args[1]
	}
	if len(args) >= 3 {
		port, err := strconv.Atoi(args[2])
		if err != nil {
			return cfg, fmt.Errorf("upstream_port: %w", err)
		}
		cfg.UpstreamPort = port
	}

	return cfg, nil
}

// waitForShutdownSignal blocks until SIGINT, SIGTERM, SIGILL, or SIGABRT
// arrives, the signal set original_source/Server.cpp installs handlers for.
// A second signal after shutdown has already begun forces an immediate exit
// rather than waiting on a graceful drain that may be stuck.
func waitForShutdownSignal() {
	sc := make(chan os.Signal, 2)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGILL, syscall.SIGABRT)

	s := <-sc
	log.Sugar.Infof("received signal %s, shutting down", s)

	go func() {
		s := <-sc
		log.Sugar.Warnf("received second signal %s during shutdown, exiting immediately", s)
		time.Sleep(50 * time.Millisecond)
		os.Exit(1)
	}()
}
