package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/capture"
)

func TestAudioIngest_FeedsChunkDevice(t *testing.T) {
	dev := capture.NewChunkDevice()
	ingest := NewAudioIngest(dev, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(http.HandlerFunc(ingest.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dev.Producers() == 1 }, time.Second, 5*time.Millisecond)

	p := capture.NewPipeline(dev)
	done, err := p.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("data")))

	// Closing the producer ends the stream as a device error.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case c := <-done:
		assert.Equal(t, capture.CauseDeviceError, c.Cause)
		assert.ErrorIs(t, c.Err, capture.ErrDeviceUnavailable)
		assert.Equal(t, "RIFFdata", string(c.Artifact.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("recording did not end after producer disconnected")
	}
	assert.Eventually(t, func() bool { return dev.Producers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAudioIngest_NoRecordingDropsChunks(t *testing.T) {
	dev := capture.NewChunkDevice()
	ingest := NewAudioIngest(dev, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(http.HandlerFunc(ingest.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("lost")))
	require.Eventually(t, func() bool { return dev.Producers() == 1 }, time.Second, 5*time.Millisecond)
}
