package broadcast

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Broadcaster delivers one event to everyone subscribed to room.
type Broadcaster interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// Envelope is the frame sent to the realtime gateway over HTTP and WebSocket.
type Envelope struct {
	Room    string `json:"room"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type transportMode string

const (
	transportHTTP transportMode = "http"
	transportWS   transportMode = "ws"
	transportAuto transportMode = "auto"
	transportLog  transportMode = "log"
)

var errNotAvailable = errors.New("broadcast transport not available")

// New builds a Broadcaster for mode. In auto mode WS is preferred while connected,
// falling back to HTTP once per event. Unknown modes log instead of sending.
func New(mode string, c *Client, ws *WebSocket, logger *zap.Logger) Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch transportMode(strings.ToLower(strings.TrimSpace(mode))) {
	case transportHTTP:
		return &httpTransport{c: c}
	case transportWS:
		return &wsTransport{ws: ws}
	case transportAuto:
		return &autoTransport{ws: &wsTransport{ws: ws}, http: &httpTransport{c: c}, logger: logger}
	default:
		return &logTransport{logger: logger}
	}
}

type httpTransport struct{ c *Client }

func (h *httpTransport) Emit(ctx context.Context, room, event string, payload any) error {
	if h == nil || h.c == nil {
		return errNotAvailable
	}
	return h.c.Emit(ctx, Envelope{Room: room, Event: event, Payload: payload})
}

type wsTransport struct{ ws *WebSocket }

func (w *wsTransport) Emit(ctx context.Context, room, event string, payload any) error {
	if w == nil || w.ws == nil {
		return errNotAvailable
	}
	return w.ws.WriteEnvelope(ctx, Envelope{Room: room, Event: event, Payload: payload})
}

type autoTransport struct {
	ws     *wsTransport
	http   *httpTransport
	logger *zap.Logger
}

func (a *autoTransport) Emit(ctx context.Context, room, event string, payload any) error {
	if a.ws != nil && a.ws.ws != nil && a.ws.ws.State() == WSStateConnected {
		err := a.ws.Emit(ctx, room, event, payload)
		if err == nil {
			return nil
		}
		a.logger.Warn("broadcast_fallback", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
	return a.http.Emit(ctx, room, event, payload)
}

// logTransport is the dry-run mode: events are only logged.
type logTransport struct{ logger *zap.Logger }

func (l *logTransport) Emit(_ context.Context, room, event string, payload any) error {
	l.logger.Info("broadcast_dryrun", zap.String("room", room), zap.String("event", event), zap.Any("payload", payload))
	return nil
}
