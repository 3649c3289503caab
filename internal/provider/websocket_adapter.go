package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quorumlabs/quorum/internal/model"
)

// WebSocketAdapter streams partial completions over a websocket connection,
// for providers whose upstream exposes a token-streaming socket rather than
// HTTP chunked transfer. Satisfies StreamingAdapter.
type WebSocketAdapter struct {
	cfg    model.ProviderConfig
	dialer *websocket.Dialer
}

// NewWebSocketAdapter builds a WebSocketAdapter bound to cfg.BaseURL.
func NewWebSocketAdapter(cfg model.ProviderConfig) (Adapter, error) {
	return &WebSocketAdapter{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
	}, nil
}

func (w *WebSocketAdapter) Name() string                { return w.cfg.Name }
func (w *WebSocketAdapter) Config() model.ProviderConfig { return w.cfg }

type wsFrame struct {
	Delta string `json:"delta,omitempty"`
	Final bool   `json:"final,omitempty"`
}

func (w *WebSocketAdapter) Generate(ctx context.Context, prompt, system string) (string, error) {
	return w.GenerateStream(ctx, prompt, system, func(string) {})
}

func (w *WebSocketAdapter) GenerateStream(ctx context.Context, prompt, system string, onDelta OnDelta) (string, error) {
	timeout := time.Duration(w.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := w.dialer.DialContext(dialCtx, w.cfg.BaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("provider %s: websocket dial: %w", w.cfg.Name, err)
	}
	defer conn.Close()

	req, err := json.Marshal(struct {
		Model  string `json:"model"`
		System string `json:"system,omitempty"`
		Prompt string `json:"prompt"`
	}{Model: w.cfg.ModelID, System: system, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("provider %s: encode request: %w", w.cfg.Name, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return "", fmt.Errorf("provider %s: websocket write: %w", w.cfg.Name, err)
	}

	var full string
	for {
		select {
		case <-dialCtx.Done():
			return "", fmt.Errorf("provider %s: %w", w.cfg.Name, dialCtx.Err())
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("provider %s: websocket read: %w", w.cfg.Name, err)
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return "", fmt.Errorf("provider %s: decode frame: %w", w.cfg.Name, err)
		}
		if frame.Delta != "" {
			full += frame.Delta
			onDelta(frame.Delta)
		}
		if frame.Final {
			if full == "" {
				return "", fmt.Errorf("provider %s: empty streamed response", w.cfg.Name)
			}
			return full, nil
		}
	}
}
