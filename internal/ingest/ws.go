package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrReconnect marks errors reported while the feed is re-establishing its
// connection, so callers can count reconnects apart from other failures.
var ErrReconnect = errors.New("ingest: feed reconnect")

// Feed streams labeled feedback rows from a WebSocket source. Each message
// carries one raw record; rows are delivered in arrival order on the rows
// channel and batched into adjustments by the caller.
type Feed struct{ url string }

// NewFeed builds a feed reader for the given WebSocket URL.
func NewFeed(u string) Feed { return Feed{u} }

// Stream connects to the feed and delivers rows until the context is
// cancelled, reconnecting with exponential backoff on failure. Non-fatal
// problems are reported on the errors channel without blocking.
func (f Feed) Stream(ctx context.Context, stream string, rows chan<- map[string]string, errs chan<- error, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := f.streamOnce(ctx, stream, rows, errs, ping); err != nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("feed connection failed, reconnecting")
				select {
				case errs <- fmt.Errorf("%w: %v", ErrReconnect, err):
				default:
				}

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}

				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}
}

func (f Feed) streamOnce(ctx context.Context, stream string, rows chan<- map[string]string, errs chan<- error, ping time.Duration) error {
	log.Info().Str("url", f.url).Str("stream", stream).Msg("establishing feed connection")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		conn.Close()
		log.Debug().Msg("feed connection closed")
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	conn.SetCloseHandler(func(code int, text string) error {
		log.Warn().Int("code", code).Str("text", text).Msg("feed closed by server")
		return fmt.Errorf("connection closed: %d %s", code, text)
	})

	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	if err = conn.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"stream": stream}},
	}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()

	if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
		return fmt.Errorf("initial ping failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				select {
				case errs <- fmt.Errorf("ping failed: %w", err):
				default:
				}
				return err
			}
		default:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Msg("feed closed normally")
					return err
				}
				return fmt.Errorf("read message failed: %w", err)
			}

			var raw struct {
				Op      string            `json:"op"`
				Success bool              `json:"success"`
				Stream  string            `json:"stream"`
				Data    map[string]string `json:"data"`
			}
			if err := json.Unmarshal(msg, &raw); err != nil {
				log.Debug().Err(err).Str("message", string(msg)).Msg("failed to parse feed message")
				continue
			}

			if raw.Op == "subscribe" {
				if raw.Success {
					log.Info().Str("stream", stream).Msg("subscribed to feed")
				} else {
					log.Warn().Str("stream", stream).Msg("feed subscription may have failed")
				}
				continue
			}

			if raw.Stream != stream || len(raw.Data) == 0 {
				continue
			}

			select {
			case rows <- raw.Data:
			default:
				log.Warn().Str("stream", stream).Msg("rows channel full, dropping row")
				select {
				case errs <- fmt.Errorf("rows channel full"):
				default:
				}
			}
		}
	}
}
