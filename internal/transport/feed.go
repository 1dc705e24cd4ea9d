package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// Feed timings.
const (
	FeedBufferSize   = 32
	FeedWriteTimeout = 5 * time.Second
	FeedPingInterval = 30 * time.Second
)

// Change is one server-initiated change broadcast on a Feed.
type Change struct {
	Verb    string           `json:"verb"`
	Records []map[string]any `json:"records"`
}

// Feed broadcasts write results to websocket subscribers. Subscribers that
// fall behind by more than FeedBufferSize changes are dropped. A nil *Feed
// ignores Publish.
type Feed struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan []byte]struct{})}
}

// Publish sends the records in payload to every subscriber.
func (f *Feed) Publish(verb string, payload any) {
	if f == nil {
		return
	}
	records := recordsOf(payload)
	if len(records) == 0 {
		return
	}
	message, err := json.Marshal(Change{Verb: verb, Records: records})
	if err != nil {
		glog.Warningf("feed encode %s: %v", verb, err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for send := range f.subs {
		select {
		case send <- message:
		default:
			glog.Warningf("feed subscriber too slow, dropping")
			delete(f.subs, send)
			close(send)
		}
	}
}

func recordsOf(payload any) []map[string]any {
	switch v := payload.(type) {
	case []map[string]any:
		return v
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}

// ServeHTTP upgrades the connection and streams changes until the client
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("feed upgrade: %v", err)
		return
	}
	defer ws.Close()

	send := make(chan []byte, FeedBufferSize)
	f.mu.Lock()
	f.subs[send] = struct{}{}
	f.mu.Unlock()
	defer f.unsubscribe(send)

	// Reads only detect the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case message, ok := <-send:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(FeedWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.V(1).Infof("feed write: %v", err)
				return
			}
		case <-time.After(FeedPingInterval):
			ws.SetWriteDeadline(time.Now().Add(FeedWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) unsubscribe(send chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[send]; ok {
		delete(f.subs, send)
		close(send)
	}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe connects to a feed URL (ws:// or wss://) and calls fn for every
// change until ctx is done or the connection fails.
func Subscribe(ctx context.Context, url string, fn func(Change)) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var change Change
		if err := json.Unmarshal(message, &change); err != nil {
			glog.Warningf("feed decode: %v", err)
			continue
		}
		if change.Verb == types.VerbCreate || change.Verb == types.VerbUpdate || change.Verb == types.VerbDestroy {
			fn(change)
		}
	}
}
