package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	DebugRTP     bool
	DebugRTSP    bool
	DebugSession bool
	DebugStream  bool
	DebugClient  bool
	DebugAll     bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable detailed RTP packet debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false,
		"Enable RTSP control protocol debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false,
		"Enable server session FSM debugging")
	fs.BoolVar(&f.DebugStream, "debug-stream", false,
		"Enable paced streamer debugging")
	fs.BoolVar(&f.DebugClient, "debug-client", false,
		"Enable client FSM debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	categories := map[DebugCategory]bool{
		DebugAll:     f.DebugAll,
		DebugRTP:     f.DebugRTP,
		DebugRTSP:    f.DebugRTSP,
		DebugSession: f.DebugSession,
		DebugStream:  f.DebugStream,
		DebugClient:  f.DebugClient,
	}
	for category, enabled := range categories {
		if enabled {
			cfg.EnableCategory(category)
			// Any debug category implies debug level
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		for category, enabled := range map[string]bool{
			"rtp":     f.DebugRTP,
			"rtsp":    f.DebugRTSP,
			"session": f.DebugSession,
			"stream":  f.DebugStream,
			"client":  f.DebugClient,
		} {
			if enabled {
				debugCategories = append(debugCategories, category)
			}
		}
	}
	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
