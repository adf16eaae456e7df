package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/scamshield/internal/capture"
)

const maxAudioFrame = 1 << 20

// AudioSink receives audio chunks from a connected producer.
// capture.ChunkDevice implements it.
type AudioSink interface {
	Attach() (detach func())
	Feed(chunk []byte) error
}

// AudioIngest accepts binary audio frames over a websocket and feeds them to
// a sink. The producer stays attached for the life of the connection, so a
// session can start only while a browser is connected.
type AudioIngest struct {
	sink   AudioSink
	logger *slog.Logger
}

// NewAudioIngest creates an ingest endpoint feeding sink.
func NewAudioIngest(sink AudioSink, logger *slog.Logger) *AudioIngest {
	return &AudioIngest{sink: sink, logger: logger}
}

// HandleWebSocket upgrades a producer connection.
func (a *AudioIngest) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("audio websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	detach := a.sink.Attach()
	defer detach()

	conn.SetReadLimit(maxAudioFrame)
	a.logger.Info("audio producer connected", "remote", r.RemoteAddr)

	var dropped int
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				a.logger.Warn("audio websocket read error", "error", err)
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := a.sink.Feed(data); err != nil {
			if errors.Is(err, capture.ErrNotRecording) {
				dropped++
				continue
			}
			a.logger.Warn("audio feed failed", "error", err)
		}
	}
	a.logger.Info("audio producer disconnected", "dropped_chunks", dropped)
}
