package server

import (
	"context"
	"errors"
	"net"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/ethan/mjpeg-streamer/pkg/logger"
	"github.com/ethan/mjpeg-streamer/pkg/mjpeg"
	"github.com/ethan/mjpeg-streamer/pkg/rtp"
	"github.com/ethan/mjpeg-streamer/pkg/stats"
)

// frameRate is the nominal open-loop send rate. One frame every 50 ms;
// there is no rate adaptation.
const frameRate = rate.Limit(20)

// streamer pushes RTP datagrams for one session at the nominal frame rate.
// It holds an immutable snapshot of the session's media resources, taken at
// PLAY time; the session promises not to touch them until the streamer's
// context is cancelled and its goroutine has drained.
type streamer struct {
	source *mjpeg.Reader
	conn   *net.UDPConn
	dest   *net.UDPAddr
	log    *logger.Logger
}

// run loops until ctx is cancelled, the frame source returns an error, or
// the send path fails. Source
// exhaustion does not stop the loop: the end-of-stream sentinel is sent in
// place of a frame until the client reacts with TEARDOWN.
func (st *streamer) run(ctx context.Context) {
	st.log.Info("streaming started", "dest", st.dest)
	defer st.log.Info("streaming stopped")

	limiter := rate.NewLimiter(frameRate, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		payload, err := st.source.NextFrame()
		if err != nil {
			st.log.Warn("frame source failed", "error", err)
			return
		}
		if len(payload) == 0 {
			payload = rtp.Sentinel()
		}

		frameNbr := st.source.FrameNumber()
		pkt, err := rtp.Encode(rtp.Header{
			Version:     rtp.Version,
			PayloadType: rtp.PayloadTypeMJPEG,
			SequenceNum: frameNbr,
		}, payload)
		if err != nil {
			// Overflow is fatal to the single packet only.
			st.log.Warn("encode failed", "frame", frameNbr, "error", err)
			continue
		}

		if _, err := st.conn.WriteToUDP(pkt, st.dest); err != nil {
			if errors.Is(err, syscall.EMSGSIZE) {
				// Datagram exceeds the host limit; skip the frame and
				// keep streaming.
				stats.PacketsDropped.Inc()
				st.log.DebugStream("datagram too large, skipped",
					"frame", frameNbr,
					"size", len(pkt))
				continue
			}
			st.log.Warn("send failed", "frame", frameNbr, "error", err)
			return
		}

		stats.PacketsSent.Inc()
		stats.BytesSent.Add(float64(len(pkt)))
		st.log.DebugRTPPacket(frameNbr, 0, rtp.PayloadTypeMJPEG, len(payload))
	}
}
