package sendd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const streamWriteTimeout = 5 * time.Second

// changeFeed fans out change signals. Slow subscribers miss intermediate
// signals but always observe the latest one.
type changeFeed struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subs: make(map[chan struct{}]struct{})}
}

func (f *changeFeed) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *changeFeed) Publish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StreamFrame is written to websocket clients on every change. Active is
// false once the workflow has ended.
type StreamFrame struct {
	Active bool  `json:"active"`
	View   *View `json:"view,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamViews(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamViews(ctx context.Context, conn *websocket.Conn) error {
	changes, cancel := s.feed.Subscribe()
	defer cancel()
	ctx = conn.CloseRead(ctx)

	if err := s.writeFrame(ctx, conn); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			if err := s.writeFrame(ctx, conn); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn) error {
	frame := StreamFrame{}
	if view, ok := s.currentView(); ok {
		frame.Active = true
		frame.View = &view
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
