package rtsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestSetup(t *testing.T) {
	req, err := ParseRequest([]byte("SETUP movie.Mjpeg RTSP/1.0\nCSeq: 1\nTransport: RTP/UDP; client_port= 52341\n"))
	require.NoError(t, err)

	assert.Equal(t, MethodSetup, req.Method)
	assert.Equal(t, "movie.Mjpeg", req.Filename)
	assert.Equal(t, 1, req.CSeq)
	assert.Equal(t, 52341, req.ClientPort)
}

func TestParseRequestSessionMethods(t *testing.T) {
	for _, method := range []Method{MethodPlay, MethodPause, MethodTeardown} {
		t.Run(string(method), func(t *testing.T) {
			raw := string(method) + " movie.Mjpeg RTSP/1.0\nCSeq: 3\nSession: 415032\n"
			req, err := ParseRequest([]byte(raw))
			require.NoError(t, err)

			assert.Equal(t, method, req.Method)
			assert.Equal(t, 3, req.CSeq)
			assert.Equal(t, 415032, req.SessionID)
		})
	}
}

func TestParseRequestDescribe(t *testing.T) {
	req, err := ParseRequest([]byte("DESCRIBE movie.Mjpeg RTSP/1.0\nCSeq: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, MethodDescribe, req.Method)
	assert.Equal(t, 2, req.CSeq)
}

func TestParseRequestMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown method", "RECORD movie.Mjpeg RTSP/1.0\nCSeq: 1\nSession: 1\n"},
		{"missing version", "SETUP movie.Mjpeg\nCSeq: 1\n"},
		{"single line", "SETUP movie.Mjpeg RTSP/1.0\n"},
		{"bad cseq", "PLAY movie.Mjpeg RTSP/1.0\nCSeq: x\nSession: 1\n"},
		{"setup without transport", "SETUP movie.Mjpeg RTSP/1.0\nCSeq: 1\n"},
		{"setup bad port", "SETUP movie.Mjpeg RTSP/1.0\nCSeq: 1\nTransport: RTP/UDP; client_port= nope\n"},
		{"play without session", "PLAY movie.Mjpeg RTSP/1.0\nCSeq: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.raw))
			require.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestFormatRequestRoundTrip(t *testing.T) {
	tests := []*Request{
		{Method: MethodSetup, Filename: "movie.Mjpeg", CSeq: 1, ClientPort: 40000},
		{Method: MethodPlay, Filename: "movie.Mjpeg", CSeq: 2, SessionID: 123456},
		{Method: MethodPause, Filename: "movie.Mjpeg", CSeq: 3, SessionID: 123456},
		{Method: MethodTeardown, Filename: "movie.Mjpeg", CSeq: 4, SessionID: 123456},
		{Method: MethodDescribe, Filename: "movie.Mjpeg", CSeq: 5},
	}

	for _, want := range tests {
		t.Run(string(want.Method), func(t *testing.T) {
			got, err := ParseRequest(FormatRequest(want))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFormatResponse(t *testing.T) {
	assert.Equal(t,
		"RTSP/1.0 200 OK\nCSeq: 1\nSession: 415032\n",
		string(FormatResponse(StatusOK, 1, 415032, nil)))

	// No session assigned yet: the Session line is omitted.
	assert.Equal(t,
		"RTSP/1.0 404 Not Found\nCSeq: 1\n",
		string(FormatResponse(StatusNotFound, 1, 0, nil)))

	assert.Equal(t,
		"RTSP/1.0 200 OK\nCSeq: 5\nSession: 415032\nencoding=MJPEG\npayload_type=26\n",
		string(FormatResponse(StatusOK, 5, 415032, []string{"encoding=MJPEG", "payload_type=26"})))
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte("RTSP/1.0 200 OK\nCSeq: 1\nSession: 415032\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.CSeq)
	assert.Equal(t, 415032, resp.SessionID)
	assert.Empty(t, resp.Extensions)
}

func TestParseResponseWithoutSession(t *testing.T) {
	resp, err := ParseResponse([]byte("RTSP/1.0 500 Connection Error\nCSeq: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.StatusCode)
	assert.Equal(t, 0, resp.SessionID)
}

func TestParseResponseExtensions(t *testing.T) {
	raw := "RTSP/1.0 200 OK\nCSeq: 5\nSession: 99\nencoding=MJPEG\npayload_type=26\n"
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"encoding=MJPEG", "payload_type=26"}, resp.Extensions)
}

func TestParseResponseEmpty(t *testing.T) {
	_, err := ParseResponse(nil)
	require.ErrorIs(t, err, ErrPeerDisconnected)
}

func TestParseResponseMalformed(t *testing.T) {
	_, err := ParseResponse([]byte("RTSP/1.0 abc OK\nCSeq: 1\n"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}
