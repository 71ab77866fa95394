package client

import (
	"errors"
	"net"
	"time"

	"github.com/ethan/mjpeg-streamer/pkg/rtp"
)

// recvTimeout bounds each datagram read so the loop can observe the stop
// flag.
const recvTimeout = 500 * time.Millisecond

// startReceiver spawns the RTP receive loop. Callers hold c.mu.
func (c *Client) startReceiver() {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.recvStop = stop
	c.recvDone = done

	conn := c.rtpConn
	go func() {
		defer close(done)
		c.receiveLoop(conn, stop)
	}()
}

// stopReceiverLocked signals the receive loop and waits for it to drain.
// Callers hold c.mu; the receive loop never takes c.mu on its exit path, so
// the wait cannot deadlock.
func (c *Client) stopReceiverLocked() {
	if c.recvStop == nil {
		return
	}
	select {
	case <-c.recvStop:
		// already closed
	default:
		close(c.recvStop)
	}
	<-c.recvDone
	c.recvStop = nil
	c.recvDone = nil
}

// receiveLoop pulls datagrams, decodes them and hands payloads to the sink.
// A sentinel payload means the source is exhausted; the loop then issues a
// local TEARDOWN and exits.
func (c *Client) receiveLoop(conn *net.UDPConn, stop chan struct{}) {
	c.log.DebugClient("receive loop started", "addr", conn.LocalAddr())
	defer c.log.DebugClient("receive loop stopped")

	buf := make([]byte, c.cfg.RTPBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
			return
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// Socket closed under us during teardown or shutdown.
			return
		}

		pkt, err := rtp.Decode(buf[:n])
		if err != nil {
			c.log.Warn("undecodable datagram", "size", n, "error", err)
			continue
		}

		payload := pkt.Payload()
		if rtp.IsSentinel(payload) {
			c.log.Info("end of stream", "last_frame", pkt.SequenceNumber())
			// Local teardown; the server never initiates one. Issued from
			// a fresh goroutine because Teardown joins this loop.
			go func() {
				if err := c.Teardown(); err != nil {
					c.log.Warn("teardown after end of stream failed", "error", err)
				}
			}()
			return
		}

		frame := make([]byte, len(payload))
		copy(frame, payload)

		seq := pkt.SequenceNumber()
		c.currentFrame.Store(int64(seq))

		c.log.DebugRTPPacket(seq, pkt.Timestamp(), pkt.PayloadType(), len(frame))
		if c.sink != nil {
			c.sink.RenderFrame(seq, frame)
		}
	}
}
