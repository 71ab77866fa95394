// Package config reads the flat configuration files used by the server and
// client binaries. The format is one `Section.key = value` entry per line,
// with `#` comments and blank lines ignored.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Server holds the options recognized by the streaming server.
type Server struct {
	Hostname    string // Server.hostname (bind address)
	ServerPort  int    // Server.server_port
	VideoFolder string // Server.video_folder
	Backlog     int    // Socket.backlog
	MetricsAddr string // Metrics.listen (empty disables the endpoint)
}

// Client holds the options recognized by the streaming client.
type Client struct {
	ServerAddr        string // Connection.server_addr
	ServerPort        int    // Connection.server_port
	NumOfRetry        int    // Connection.num_of_retry
	DelayBetweenRetry int    // Connection.delay_between_retry, in seconds
	RTSPBufferSize    int    // Client.rtsp_buffer_size, in bytes
	RTPBufferSize     int    // Client.rtp_buffer_size, in bytes
}

// DefaultServer returns the server defaults applied before reading a file.
func DefaultServer() *Server {
	return &Server{
		Hostname:    "0.0.0.0",
		ServerPort:  2103,
		VideoFolder: "./videos",
		Backlog:     5,
	}
}

// DefaultClient returns the client defaults applied before reading a file.
func DefaultClient() *Client {
	return &Client{
		ServerAddr:        "localhost",
		ServerPort:        2103,
		NumOfRetry:        3,
		DelayBetweenRetry: 2,
		RTSPBufferSize:    1024,
		RTPBufferSize:     65536,
	}
}

// LoadServer reads server options from path on top of the defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	err := scan(path, func(key, value string) error {
		switch key {
		case "Server.hostname":
			cfg.Hostname = value
		case "Server.server_port":
			return setInt(&cfg.ServerPort, key, value)
		case "Server.video_folder":
			cfg.VideoFolder = value
		case "Socket.backlog":
			return setInt(&cfg.Backlog, key, value)
		case "Metrics.listen":
			cfg.MetricsAddr = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads client options from path on top of the defaults.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	err := scan(path, func(key, value string) error {
		switch key {
		case "Connection.server_addr":
			cfg.ServerAddr = value
		case "Connection.server_port":
			return setInt(&cfg.ServerPort, key, value)
		case "Connection.num_of_retry":
			return setInt(&cfg.NumOfRetry, key, value)
		case "Connection.delay_between_retry":
			return setInt(&cfg.DelayBetweenRetry, key, value)
		case "Client.rtsp_buffer_size":
			return setInt(&cfg.RTSPBufferSize, key, value)
		case "Client.rtp_buffer_size":
			return setInt(&cfg.RTPBufferSize, key, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all server options are usable.
func (c *Server) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("missing Server.hostname")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid Server.server_port: %d", c.ServerPort)
	}
	if c.VideoFolder == "" {
		return fmt.Errorf("missing Server.video_folder")
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("invalid Socket.backlog: %d", c.Backlog)
	}
	return nil
}

// Validate checks that all client options are usable.
func (c *Client) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("missing Connection.server_addr")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid Connection.server_port: %d", c.ServerPort)
	}
	if c.NumOfRetry <= 0 {
		return fmt.Errorf("invalid Connection.num_of_retry: %d", c.NumOfRetry)
	}
	if c.DelayBetweenRetry < 0 {
		return fmt.Errorf("invalid Connection.delay_between_retry: %d", c.DelayBetweenRetry)
	}
	if c.RTSPBufferSize <= 0 {
		return fmt.Errorf("invalid Client.rtsp_buffer_size: %d", c.RTSPBufferSize)
	}
	if c.RTPBufferSize <= 0 {
		return fmt.Errorf("invalid Client.rtp_buffer_size: %d", c.RTPBufferSize)
	}
	return nil
}

// scan reads key = value lines from path and feeds them to apply.
func scan(path string, apply func(key, value string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("config line %d: expected key = value, got %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := apply(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan config file: %w", err)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, value)
	}
	*dst = n
	return nil
}
