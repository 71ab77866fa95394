// Package client implements the control plane of the streaming client: the
// RTSP state machine, connection establishment with bounded retry, and the
// RTP receive loop. Rendering stays behind the FrameSink interface.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethan/mjpeg-streamer/pkg/config"
	"github.com/ethan/mjpeg-streamer/pkg/logger"
	"github.com/ethan/mjpeg-streamer/pkg/rtsp"
)

// State is the client protocol state.
type State int

const (
	StateDisconnected State = iota
	StateInit
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrIllegalTransition reports a user action that is not valid in the
	// current state. The request is not sent and CSeq does not advance.
	ErrIllegalTransition = errors.New("client: action not valid in current state")

	// ErrConnectFailed reports retry exhaustion during connection
	// establishment.
	ErrConnectFailed = errors.New("client: could not connect to server")

	// ErrRequestFailed reports a non-200 reply.
	ErrRequestFailed = errors.New("client: request rejected by server")
)

// FrameSink consumes decoded media payloads. Implementations must be safe
// to call from the receive goroutine.
type FrameSink interface {
	RenderFrame(seq int, payload []byte)
}

// Client drives the RTSP dialogue against one server. The zero value is not
// usable; construct with New. Methods are safe for concurrent use; state,
// CSeq and session id are guarded by one mutex.
type Client struct {
	cfg  *config.Client
	sink FrameSink
	log  *logger.Logger

	mu        sync.Mutex
	state     State
	cseq      int
	sessionID int
	filename  string

	conn    net.Conn
	rtpConn *net.UDPConn

	recvStop chan struct{}
	recvDone chan struct{}

	// currentFrame is atomic: the receive loop writes it without taking
	// c.mu, so stopping the loop under c.mu cannot deadlock.
	currentFrame atomic.Int64
}

// New creates a Client. sink receives every decoded frame during PLAYING.
func New(cfg *config.Client, sink FrameSink, log *logger.Logger) *Client {
	return &Client{
		cfg:   cfg,
		sink:  sink,
		log:   log,
		state: StateDisconnected,
	}
}

// State returns the current protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CSeq returns the outgoing request counter.
func (c *Client) CSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cseq
}

// SessionID returns the id granted by the last successful SETUP, or 0.
func (c *Client) SessionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// CurrentFrame returns the sequence number of the last rendered frame.
func (c *Client) CurrentFrame() int {
	return int(c.currentFrame.Load())
}

// Connect establishes the control connection, retrying up to
// Connection.num_of_retry times with Connection.delay_between_retry seconds
// between attempts. Connection refused is retried; any other dial error is
// fatal. Cancelling ctx aborts the loop.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.ServerAddr, strconv.Itoa(c.cfg.ServerPort))
	delay := time.Duration(c.cfg.DelayBetweenRetry) * time.Second

	var dialer net.Dialer
	for attempt := 1; attempt <= c.cfg.NumOfRetry; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.state = StateInit
			c.cseq = 0
			c.mu.Unlock()
			c.log.Info("connected", "addr", addr, "attempt", attempt)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("connect %s: %w", addr, err)
		}

		c.log.Warn("connection refused, retrying",
			"addr", addr,
			"attempt", attempt,
			"of", c.cfg.NumOfRetry)

		if attempt < c.cfg.NumOfRetry {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return fmt.Errorf("%w: %s after %d attempts", ErrConnectFailed, addr, c.cfg.NumOfRetry)
}

// Setup negotiates a session for filename. On 200 the client holds an open
// RTP receive socket and the granted session id.
func (c *Client) Setup(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInit {
		c.log.Warn("setup ignored", "state", c.state.String())
		return ErrIllegalTransition
	}

	// The receive socket must exist before the request goes out: its port
	// is advertised in the Transport line, and the server may start
	// sending as soon as PLAY is answered.
	rtpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("open RTP socket: %w", err)
	}
	if err := rtpConn.SetReadBuffer(c.cfg.RTPBufferSize); err != nil {
		c.log.Warn("set RTP receive buffer failed", "error", err)
	}
	rtpPort := rtpConn.LocalAddr().(*net.UDPAddr).Port

	c.cseq++
	resp, err := c.exchange(&rtsp.Request{
		Method:     rtsp.MethodSetup,
		Filename:   filename,
		CSeq:       c.cseq,
		ClientPort: rtpPort,
	})
	if err != nil {
		rtpConn.Close()
		return err
	}
	if resp.StatusCode != rtsp.StatusOK {
		rtpConn.Close()
		return c.rejected(resp)
	}

	c.rtpConn = rtpConn
	c.sessionID = resp.SessionID
	c.filename = filename
	c.state = StateReady
	c.log.Info("session granted", "session_id", c.sessionID, "rtp_port", rtpPort)
	return nil
}

// Play asks the server to start streaming and spawns the receive loop.
func (c *Client) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		c.log.Warn("play ignored", "state", c.state.String())
		return ErrIllegalTransition
	}

	c.cseq++
	resp, err := c.exchange(&rtsp.Request{
		Method:    rtsp.MethodPlay,
		Filename:  c.filename,
		CSeq:      c.cseq,
		SessionID: c.sessionID,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != rtsp.StatusOK {
		return c.rejected(resp)
	}

	c.state = StatePlaying
	c.startReceiver()
	return nil
}

// Pause stops the paced stream; the session stays negotiated.
func (c *Client) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying {
		c.log.Warn("pause ignored", "state", c.state.String())
		return ErrIllegalTransition
	}

	c.cseq++
	resp, err := c.exchange(&rtsp.Request{
		Method:    rtsp.MethodPause,
		Filename:  c.filename,
		CSeq:      c.cseq,
		SessionID: c.sessionID,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != rtsp.StatusOK {
		return c.rejected(resp)
	}

	c.stopReceiverLocked()
	c.state = StateReady
	return nil
}

// Teardown ends the session and releases the RTP socket. The rendered
// frame position is reset.
func (c *Client) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady && c.state != StatePlaying {
		c.log.Warn("teardown ignored", "state", c.state.String())
		return ErrIllegalTransition
	}

	c.cseq++
	resp, err := c.exchange(&rtsp.Request{
		Method:    rtsp.MethodTeardown,
		Filename:  c.filename,
		CSeq:      c.cseq,
		SessionID: c.sessionID,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != rtsp.StatusOK {
		return c.rejected(resp)
	}

	c.stopReceiverLocked()
	if c.rtpConn != nil {
		c.rtpConn.Close()
		c.rtpConn = nil
	}
	c.sessionID = 0
	c.currentFrame.Store(0)
	c.state = StateInit
	return nil
}

// Describe fetches the server's stream description lines. Valid in any
// connected state and does not change it.
func (c *Client) Describe(filename string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return nil, ErrIllegalTransition
	}

	c.cseq++
	resp, err := c.exchange(&rtsp.Request{
		Method:   rtsp.MethodDescribe,
		Filename: filename,
		CSeq:     c.cseq,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != rtsp.StatusOK {
		return nil, c.rejected(resp)
	}
	return resp.Extensions, nil
}

// Close shuts the client down from the user side: the receive loop is
// stopped, both sockets are closed and the state returns to DISCONNECTED.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return nil
}

// exchange writes req and reads one reply. A failed write, a failed read or
// a zero-length read tears the connection down and is returned as
// ErrPeerDisconnected. Parsed replies are returned whatever their status;
// callers hand non-200 replies to rejected.
func (c *Client) exchange(req *rtsp.Request) (*rtsp.Response, error) {
	data := rtsp.FormatRequest(req)
	c.log.DebugRTSP("sending request", "data", string(data))

	if _, err := c.conn.Write(data); err != nil {
		c.disconnectLocked()
		return nil, fmt.Errorf("%w: %v", rtsp.ErrPeerDisconnected, err)
	}

	buf := make([]byte, c.cfg.RTSPBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil || n == 0 {
		c.disconnectLocked()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rtsp.ErrPeerDisconnected, err)
		}
		return nil, rtsp.ErrPeerDisconnected
	}

	c.log.DebugRTSP("reply received", "data", string(buf[:n]))

	resp, err := rtsp.ParseResponse(buf[:n])
	if err != nil {
		return nil, err
	}
	if resp.CSeq != req.CSeq {
		c.log.Warn("reply CSeq mismatch", "got", resp.CSeq, "want", req.CSeq)
	}
	return resp, nil
}

// rejected maps a non-200 reply to an error. 500 additionally drops the
// connection: the server considers the dialogue broken.
func (c *Client) rejected(resp *rtsp.Response) error {
	err := fmt.Errorf("%w: %d", ErrRequestFailed, resp.StatusCode)
	if resp.StatusCode == rtsp.StatusError {
		c.log.Warn("server reported connection error, disconnecting")
		c.disconnectLocked()
	}
	return err
}

// disconnectLocked releases everything. Callers hold c.mu.
func (c *Client) disconnectLocked() {
	c.stopReceiverLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.rtpConn != nil {
		c.rtpConn.Close()
		c.rtpConn = nil
	}
	c.state = StateDisconnected
}
