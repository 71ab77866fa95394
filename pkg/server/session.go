package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethan/mjpeg-streamer/pkg/logger"
	"github.com/ethan/mjpeg-streamer/pkg/mjpeg"
	"github.com/ethan/mjpeg-streamer/pkg/rtp"
	"github.com/ethan/mjpeg-streamer/pkg/rtsp"
	"github.com/ethan/mjpeg-streamer/pkg/stats"
)

// state is the per-connection protocol state.
type state int

const (
	stateInit state = iota
	stateReady
	statePlaying
	stateStop
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateReady:
		return "READY"
	case statePlaying:
		return "PLAYING"
	case stateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

const (
	// controlReadTimeout bounds each read on the control socket so the
	// serve loop can observe shutdown.
	controlReadTimeout = time.Second

	// controlWriteTimeout bounds reply writes.
	controlWriteTimeout = 5 * time.Second

	// controlBufferSize is the receive buffer for one control request.
	controlBufferSize = 1024

	sessionIDMin = 100000
	sessionIDMax = 999999
)

// session serves the RTSP dialogue of one control connection. It owns the
// frame reader, the UDP send socket and the paced streamer; all three
// terminate with it.
type session struct {
	conn     net.Conn
	videoDir string
	log      *logger.Logger

	id           int
	expectedCSeq int
	state        state

	clientRTPAddr *net.UDPAddr
	rtpConn       *net.UDPConn
	source        *mjpeg.Reader

	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

func newSession(conn net.Conn, videoDir string, log *logger.Logger) *session {
	return &session{
		conn:         conn,
		videoDir:     videoDir,
		log:          log,
		state:        stateInit,
		expectedCSeq: 1,
	}
}

// transitionKey indexes the dispatch table by (state, method).
type transitionKey struct {
	from   state
	method rtsp.Method
}

// transitions is the legal (state, method) combinations. Anything absent is
// an illegal transition answered with 500.
var transitions = map[transitionKey]func(*session, *rtsp.Request) error{
	{stateInit, rtsp.MethodSetup}: (*session).handleSetup,
	{stateReady, rtsp.MethodPlay}: (*session).handlePlay,

	{statePlaying, rtsp.MethodPause}: (*session).handlePause,

	{stateInit, rtsp.MethodTeardown}:    (*session).handleTeardown,
	{stateReady, rtsp.MethodTeardown}:   (*session).handleTeardown,
	{statePlaying, rtsp.MethodTeardown}: (*session).handleTeardown,

	{stateInit, rtsp.MethodDescribe}:    (*session).handleDescribe,
	{stateReady, rtsp.MethodDescribe}:   (*session).handleDescribe,
	{statePlaying, rtsp.MethodDescribe}: (*session).handleDescribe,
}

// serve runs the control loop until the peer disconnects or a write fails.
func (s *session) serve() {
	stats.SessionsActive.Inc()
	defer stats.SessionsActive.Dec()
	defer s.cleanup()

	s.log.Info("session started", "remote_addr", s.conn.RemoteAddr())

	buf := make([]byte, controlBufferSize)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(controlReadTimeout)); err != nil {
			s.log.Warn("set read deadline failed", "error", err)
			return
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.Info("client disconnected", "error", err)
			return
		}
		if n == 0 {
			s.log.Info("client disconnected")
			return
		}

		s.log.DebugRTSP("request received", "data", string(buf[:n]))

		if err := s.handleRequest(buf[:n]); err != nil {
			s.log.Warn("control write failed", "error", err)
			return
		}
	}
}

// handleRequest validates one request and dispatches it through the
// transition table. The returned error is a control-socket write failure;
// protocol-level problems are answered on the wire instead.
func (s *session) handleRequest(data []byte) error {
	req, err := rtsp.ParseRequest(data)
	if err != nil {
		s.log.Warn("malformed request", "error", err)
		stats.RequestsTotal.WithLabelValues("invalid", strconv.Itoa(rtsp.StatusError)).Inc()
		return s.reply(rtsp.StatusError, s.expectedCSeq, nil)
	}

	// Strict CSeq discipline: a mismatch is answered 500 and the expected
	// value does not advance.
	if req.CSeq != s.expectedCSeq {
		s.log.Warn("out-of-order CSeq",
			"got", req.CSeq,
			"expected", s.expectedCSeq,
			"method", req.Method)
		stats.RequestsTotal.WithLabelValues(string(req.Method), strconv.Itoa(rtsp.StatusError)).Inc()
		return s.reply(rtsp.StatusError, req.CSeq, nil)
	}

	// PLAY, PAUSE and TEARDOWN must name the session they were granted.
	switch req.Method {
	case rtsp.MethodPlay, rtsp.MethodPause, rtsp.MethodTeardown:
		if req.SessionID != s.id {
			s.log.Warn("session id mismatch",
				"got", req.SessionID,
				"method", req.Method)
			stats.RequestsTotal.WithLabelValues(string(req.Method), strconv.Itoa(rtsp.StatusError)).Inc()
			return s.reply(rtsp.StatusError, req.CSeq, nil)
		}
	}

	handler, ok := transitions[transitionKey{s.state, req.Method}]
	if !ok {
		s.log.Warn("illegal transition",
			"state", s.state.String(),
			"method", req.Method)
		stats.RequestsTotal.WithLabelValues(string(req.Method), strconv.Itoa(rtsp.StatusError)).Inc()
		err = s.reply(rtsp.StatusError, req.CSeq, nil)
		s.expectedCSeq++
		return err
	}

	err = handler(s, req)
	s.expectedCSeq++
	return err
}

func (s *session) handleSetup(req *rtsp.Request) error {
	s.log.DebugSession("processing SETUP", "filename", req.Filename)

	source, err := mjpeg.Open(filepath.Join(s.videoDir, req.Filename))
	if err != nil {
		s.log.Warn("video source unavailable", "filename", req.Filename, "error", err)
		return s.replyStatus(req, rtsp.StatusNotFound)
	}

	rtpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		source.Close()
		s.log.Error("open RTP socket failed", "error", err)
		return s.replyStatus(req, rtsp.StatusError)
	}

	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		source.Close()
		rtpConn.Close()
		s.log.Error("resolve client address failed", "error", err)
		return s.replyStatus(req, rtsp.StatusError)
	}

	s.source = source
	s.rtpConn = rtpConn
	s.clientRTPAddr = &net.UDPAddr{IP: net.ParseIP(host), Port: req.ClientPort}
	s.id = sessionIDMin + rand.Intn(sessionIDMax-sessionIDMin+1)
	s.state = stateReady

	s.log.Info("session established",
		"session_id", s.id,
		"filename", req.Filename,
		"client_rtp_addr", s.clientRTPAddr)

	return s.replyStatus(req, rtsp.StatusOK)
}

func (s *session) handlePlay(req *rtsp.Request) error {
	s.log.DebugSession("processing PLAY", "session_id", s.id)
	s.state = statePlaying

	// Reply before the first datagram leaves, so the client is listening
	// by the time packets arrive.
	if err := s.replyStatus(req, rtsp.StatusOK); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.streamCancel = cancel
	s.streamDone = done

	st := &streamer{
		source: s.source,
		conn:   s.rtpConn,
		dest:   s.clientRTPAddr,
		log:    s.log,
	}
	go func() {
		defer close(done)
		st.run(ctx)
	}()

	return nil
}

func (s *session) handlePause(req *rtsp.Request) error {
	s.log.DebugSession("processing PAUSE", "session_id", s.id)
	s.stopStreamer()
	s.state = stateReady
	return s.replyStatus(req, rtsp.StatusOK)
}

func (s *session) handleTeardown(req *rtsp.Request) error {
	s.log.DebugSession("processing TEARDOWN", "session_id", s.id, "state", s.state.String())
	s.stopStreamer()
	s.closeMedia()
	s.state = stateInit
	return s.replyStatus(req, rtsp.StatusOK)
}

func (s *session) handleDescribe(req *rtsp.Request) error {
	s.log.DebugSession("processing DESCRIBE", "filename", req.Filename)

	extensions := []string{
		"encoding=MJPEG",
		fmt.Sprintf("payload_type=%d", rtp.PayloadTypeMJPEG),
	}
	if s.source != nil {
		extensions = append(extensions,
			fmt.Sprintf("video_file=%s", filepath.Base(s.source.Path())),
			fmt.Sprintf("frame_number=%d", s.source.FrameNumber()))
	}

	stats.RequestsTotal.WithLabelValues(string(req.Method), strconv.Itoa(rtsp.StatusOK)).Inc()
	return s.reply(rtsp.StatusOK, req.CSeq, extensions)
}

// replyStatus answers req with code and no extension lines.
func (s *session) replyStatus(req *rtsp.Request, code int) error {
	stats.RequestsTotal.WithLabelValues(string(req.Method), strconv.Itoa(code)).Inc()
	return s.reply(code, req.CSeq, nil)
}

func (s *session) reply(code, cseq int, extensions []string) error {
	data := rtsp.FormatResponse(code, cseq, s.id, extensions)
	s.log.DebugRTSP("sending reply", "data", string(data))

	if err := s.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(data)
	return err
}

// stopStreamer cancels the paced streamer and waits for it to drain.
func (s *session) stopStreamer() {
	if s.streamCancel == nil {
		return
	}
	s.streamCancel()
	<-s.streamDone
	s.streamCancel = nil
	s.streamDone = nil
}

func (s *session) closeMedia() {
	if s.rtpConn != nil {
		s.rtpConn.Close()
		s.rtpConn = nil
	}
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
}

// cleanup tears everything down when the control loop exits.
func (s *session) cleanup() {
	s.state = stateStop
	s.stopStreamer()
	s.closeMedia()
	s.conn.Close()
	s.log.Info("session closed")
}
