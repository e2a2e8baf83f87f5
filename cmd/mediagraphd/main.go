package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	mediagraph "github.com/behrlich/mediagraphd"
	"github.com/behrlich/mediagraphd/internal/config"
	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/logging"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/nodes"
)

func main() {
	var (
		sockPath  = flag.String("socket", "", "Transport socket path (default: under XDG_RUNTIME_DIR)")
		freqStr   = flag.String("sine-freq", "440", "Frequency in Hz of the built-in sine source")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	freqHz, err := strconv.ParseFloat(*freqStr, 64)
	if err != nil {
		log.Fatalf("invalid sine-freq %q: %v", *freqStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := config.DefaultConfig()
	if *sockPath != "" {
		cfg.SocketPath = *sockPath
	}

	options := &mediagraph.Options{Logger: logger}

	logger.Info("creating media graph server", "socket", cfg.SocketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := mediagraph.NewServer(cfg, options)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	sampleRate := float64(time.Second) / float64(cfg.CycleDuration) * 1024

	srv.RegisterNodeFactory("sine-source", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		freq := freqHz
		if s, ok := props["freq-hz"]; ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				freq = v
			}
		}
		src := nodes.NewSineSource(sampleRate, freq)
		return src, true, config.DefaultBufferSize, src.OutputFormats(), nil, nil
	})
	srv.RegisterNodeFactory("null-sink", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		sink := nodes.NewNullSink(sampleRate)
		return sink, false, 0, nil, sink.InputFormats(), nil
	})
	srv.RegisterNodeFactory("passthrough", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		delay := 0
		if s, ok := props["delay-cycles"]; ok {
			if v, err := strconv.Atoi(s); err == nil {
				delay = v
			}
		}
		pt := nodes.NewPassthrough(delay, sampleRate)
		return pt, true, config.DefaultBufferSize, pt.OutputFormats(), pt.InputFormats(), nil
	})

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve(ctx)
	}()

	defer func() {
		logger.Info("stopping server")
		if err := mediagraph.StopAndDelete(context.Background(), srv); err != nil {
			logger.Error("error stopping server", "error", err)
		} else {
			logger.Info("server stopped successfully")
		}
	}()

	logger.Info("server listening", "socket", cfg.SocketPath)

	fmt.Printf("Media graph daemon listening on %s\n", cfg.SocketPath)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n")
			fmt.Fprintf(os.Stderr, "%s\n", buf[:n])
			fmt.Fprintf(os.Stderr, "=== END STACK DUMP ===\n\n")

			filename := fmt.Sprintf("mediagraphd-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])

				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)

				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("serve exited", "error", err)
		}
	}

	cancel()

	cleanupDone := make(chan bool)
	go func() {
		if err := mediagraph.StopAndDelete(context.Background(), srv); err != nil {
			logger.Error("error stopping server", "error", err)
		} else {
			logger.Info("server stopped successfully")
		}
		cleanupDone <- true
	}()

	select {
	case <-cleanupDone:
	case <-time.After(1 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}

	os.Exit(0)
}
