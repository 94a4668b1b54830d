package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const feedRetryDelay = 2 * time.Second

// FeedClient follows the proctoring change feed of one exam and turns its
// events into reconcile triggers.
type FeedClient struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger
	retry  time.Duration
}

// NewFeedClient builds a feed client for the server at baseURL ("http://..."
// or "https://...").
func NewFeedClient(baseURL, token string, examID uuid.UUID, log zerolog.Logger) *FeedClient {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "http", "ws", 1)
	u = fmt.Sprintf("%s/ws/v1/proctoring/exams/%s/feed?token=%s", u, examID, url.QueryEscape(token))

	return &FeedClient{
		url:    u,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "feed_client").Str("exam_id", examID.String()).Logger(),
		retry:  feedRetryDelay,
	}
}

// Changes returns a channel that receives a value whenever the feed reports an
// event or reconnects. Bursts collapse into one pending trigger. The channel
// closes when ctx is done.
func (f *FeedClient) Changes(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			if err := f.follow(ctx, out); err != nil && ctx.Err() == nil {
				f.log.Warn().Err(err).Dur("retry_in", f.retry).Msg("Feed disconnected")
			}
			select {
			case <-ctx.Done():
			case <-time.After(f.retry):
			}
		}
	}()
	return out
}

func (f *FeedClient) follow(ctx context.Context, out chan<- struct{}) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial feed: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Anything may have changed while disconnected.
	trigger(out)

	for {
		var msg ws.ChangeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		if msg.Event != ws.EventChange {
			continue
		}
		f.log.Debug().Str("type", string(msg.Change.Type)).Msg("Feed event")
		trigger(out)
	}
}

func trigger(out chan<- struct{}) {
	select {
	case out <- struct{}{}:
	default:
	}
}
