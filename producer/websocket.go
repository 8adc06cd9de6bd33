// Package producer implements optional, concrete adapters that feed a
// channel.Channel[D] from an upstream source: a streaming
// WebSocket source and a SQLite-snapshot spool source (local directory or
// S3 prefix). Neither adapter decides what a document looks like beyond
// decoding raw upstream data into D; mapping stays the caller's job.
package producer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/internal/logging"
)

// WebSocketProducer dials a streaming JSON endpoint and writes each decoded
// message into a channel.Channel[D].
type WebSocketProducer[D any] struct {
	conn *websocket.Conn
	logger logging.Logger
	decode func([]byte) (D, error)
}

// NewWebSocketProducer builds a producer that decodes each inbound frame
// with decode before writing it into the target channel.
func NewWebSocketProducer[D any](logger logging.Logger, decode func([]byte) (D, error)) *WebSocketProducer[D] {
	return &WebSocketProducer[D]{logger: logger, decode: decode}
}

// Connect dials url and upgrades the connection to a websocket.
func (p *WebSocketProducer[D]) Connect(ctx context.Context, url string) error {
	p.logger.Info("connecting to streaming endpoint at %s", url)

	dialer := websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{"User-Agent": []string{"esingest/1.0"}})
	if err != nil {
		if resp != nil {
			p.logger.Error("connection failed with status %d: %v", resp.StatusCode, err)
		} else {
			p.logger.Error("connection failed: %v", err)
		}
		return fmt.Errorf("esingest/producer: connect: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	p.conn = conn
	p.logger.Info("connected to streaming endpoint")
	return nil
}

// Run reads messages until ctx is cancelled, the connection errors, or ch
// stops accepting writes,
// decoding each one and writing it into ch via WaitToWrite so a full
// inbound buffer applies backpressure onto the read loop rather than
// dropping messages.
func (p *WebSocketProducer[D]) Run(ctx context.Context, ch *channel.Channel[D]) error {
	if p.conn == nil {
		return fmt.Errorf("esingest/producer: Run called before Connect")
	}

	for {
		if deadline, ok := ctx.Deadline(); ok {
			p.conn.SetReadDeadline(deadline)
		}

		messageType, message, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("esingest/producer: read message: %w", err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			p.logger.Debug("received non-data message type: %d", messageType)
			continue
		}

		doc, err := p.decode(message)
		if err != nil {
			p.logger.Error("failed to decode message: %v", err)
			continue
		}

		if !ch.WaitToWrite(ctx, doc) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("esingest/producer: channel rejected message (state %s)", ch.State())
		}
	}
}

// Close closes the underlying connection, sending a normal-closure control
// frame first.
func (p *WebSocketProducer[D]) Close() error {
	if p.conn == nil {
		return nil
	}
	p.logger.Info("closing streaming connection")

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := p.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
		p.logger.Error("failed to send close message: %v", err)
	}

	err := p.conn.Close()
	p.conn = nil
	if err != nil {
		return fmt.Errorf("esingest/producer: close: %w", err)
	}
	return nil
}
