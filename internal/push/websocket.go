package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// TokenSource supplies the bearer token sent when connecting.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// WebSocketSettings tunes the realtime client.
type WebSocketSettings struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

// DefaultWebSocketSettings returns the settings used when none are given.
func DefaultWebSocketSettings() WebSocketSettings {
	return WebSocketSettings{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// WebSocket subscribes to a realtime endpoint that pushes row changes.
// Dropped connections are re-established with exponential backoff and a
// RESYNC event, since changes made while disconnected were not seen.
type WebSocket struct {
	url      string
	tokens   TokenSource
	settings WebSocketSettings
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewWebSocket creates a client for the endpoint at url (ws:// or wss://).
func NewWebSocket(url string, tokens TokenSource, settings WebSocketSettings, logger *slog.Logger) (*WebSocket, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("push: unsupported websocket url %q", url)
	}
	return &WebSocket{
		url:      url,
		tokens:   tokens,
		settings: settings,
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:   logger,
	}, nil
}

type subscribeMessage struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
}

type changeMessage struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
}

// Subscribe runs the connection loop until ctx is cancelled.
func (s *WebSocket) Subscribe(ctx context.Context, collection string) (<-chan Event, error) {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		backoff := s.settings.MinBackoff
		connected := false
		for {
			ok, err := s.session(ctx, collection, out, connected)
			if ctx.Err() != nil {
				return
			}
			if ok {
				connected = true
				backoff = s.settings.MinBackoff
			}
			if err != nil {
				s.logger.Warn("push: websocket disconnected",
					slog.String("collection", collection),
					slog.String("error", err.Error()),
					slog.Duration("retry_in", backoff))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.settings.MaxBackoff {
				backoff = s.settings.MaxBackoff
			}
		}
	}()
	return out, nil
}

// session handles one connection and reports whether it was established.
// resync is set on reconnects.
func (s *WebSocket) session(ctx context.Context, collection string, out chan<- Event, resync bool) (bool, error) {
	ws, err := s.connect(ctx, collection)
	if err != nil {
		return false, err
	}
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()
	go func() {
		<-handleCtx.Done()
		_ = ws.Close()
	}()

	s.logger.Info("push: websocket subscribed", slog.String("collection", collection))
	if resync {
		emit(handleCtx, out, Event{Collection: collection, Op: OpResync, At: time.Now()})
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})
	go func() {
		defer handleCancel()
		ticker := time.NewTicker(s.settings.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(s.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg changeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("push: ignoring malformed message", slog.String("error", err.Error()))
			continue
		}
		op, ok := parseOp(msg.Type)
		if !ok {
			continue
		}
		if msg.Collection != "" && msg.Collection != collection {
			continue
		}
		emit(handleCtx, out, Event{Collection: collection, Op: op, ID: msg.ID, At: time.Now()})
	}
}

func (s *WebSocket) connect(ctx context.Context, collection string) (*websocket.Conn, error) {
	header := http.Header{}
	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("push: token: %w", err)
		}
		header.Set("Authorization", "Bearer "+tok)
	}
	ws, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("push: dial: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = ws.Close()
		}
	}()

	_ = ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := ws.WriteJSON(subscribeMessage{Type: "subscribe", Collection: collection}); err != nil {
		return nil, fmt.Errorf("push: subscribe: %w", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})
	success = true
	return ws, nil
}

func parseOp(t string) (Op, bool) {
	switch Op(strings.ToUpper(t)) {
	case OpInsert:
		return OpInsert, true
	case OpUpdate:
		return OpUpdate, true
	case OpDelete:
		return OpDelete, true
	}
	return "", false
}

func emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
