// The client binary drives a scripted streaming session without a GUI:
// connect, SETUP, optional DESCRIBE, PLAY for a while, PAUSE, TEARDOWN.
// Received frames go to a directory or are counted and dropped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethan/mjpeg-streamer/pkg/client"
	"github.com/ethan/mjpeg-streamer/pkg/config"
	"github.com/ethan/mjpeg-streamer/pkg/logger"
)

// dirSink writes each received frame as a JPEG file. An empty dir counts
// frames without writing.
type dirSink struct {
	dir    string
	log    *logger.Logger
	frames atomic.Uint64
}

func (s *dirSink) RenderFrame(seq int, payload []byte) {
	s.frames.Add(1)
	if s.dir == "" {
		return
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame-%05d.jpg", seq))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		s.log.Warn("write frame failed", "path", path, "error", err)
	}
}

func main() {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	configPath := fs.String("config", "client.conf", "Path to the client configuration file")
	filename := fs.String("file", "movie.Mjpeg", "Video file to request from the server")
	duration := fs.Duration("play", 5*time.Second, "How long to stay in PLAYING before pausing")
	outDir := fs.String("out", "", "Directory to save received frames into (omit to discard)")
	describe := fs.Bool("describe", false, "Issue DESCRIBE after SETUP and print the reply")
	logFlags := logger.RegisterFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "MJPEG streaming client (headless)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	logger.SetDefault(log)

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Error("create output directory failed", "dir", *outDir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sink := &dirSink{dir: *outDir, log: log}
	c := client.New(cfg, sink, log.With("component", "client"))
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		log.Error("connection failed", "error", err)
		os.Exit(1)
	}

	if err := c.Setup(*filename); err != nil {
		log.Error("SETUP failed", "error", err)
		os.Exit(1)
	}
	log.Info("session granted", "session_id", c.SessionID())

	if *describe {
		lines, err := c.Describe(*filename)
		if err != nil {
			log.Warn("DESCRIBE failed", "error", err)
		} else {
			for _, line := range lines {
				fmt.Println(line)
			}
		}
	}

	if err := c.Play(); err != nil {
		log.Error("PLAY failed", "error", err)
		os.Exit(1)
	}
	log.Info("playing", "duration", *duration)

	select {
	case <-ctx.Done():
	case <-time.After(*duration):
	}

	lastFrame := c.CurrentFrame()

	// The receiver may have torn the session down already if the stream
	// ended; treat the follow-up actions as best effort.
	if c.State() == client.StatePlaying {
		if err := c.Pause(); err != nil {
			log.Warn("PAUSE failed", "error", err)
		}
	}
	if state := c.State(); state == client.StateReady || state == client.StatePlaying {
		if err := c.Teardown(); err != nil {
			log.Warn("TEARDOWN failed", "error", err)
		}
	}

	log.Info("done", "frames_received", sink.frames.Load(), "last_frame", lastFrame)
}
