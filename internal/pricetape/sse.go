package pricetape

import (
	"net/http"
	"sync"
	"time"
)

// writeEvent writes one SSE "data:" frame and flushes it.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// sseClient is one subscriber's outbound buffer. send is closed by the
// registry on unregister; writers must not write to it afterward.
type sseClient struct {
	send chan []byte
}

const clientSendBuffer = 16

// subscriberRegistry is the Price Tape's SSE subscriber set. Add/remove are
// mutually exclusive under a single mutex; broadcast never blocks on a slow
// subscriber.
type subscriberRegistry struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{clients: make(map[*sseClient]struct{})}
}

func (r *subscriberRegistry) register() *sseClient {
	c := &sseClient{send: make(chan []byte, clientSendBuffer)}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	return c
}

func (r *subscriberRegistry) unregister(c *sseClient) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	r.mu.Unlock()
}

func (r *subscriberRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// broadcast fans data out to every subscriber. A subscriber whose buffer is
// full is dropped rather than allowed to stall the broadcaster.
func (r *subscriberRegistry) broadcast(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		select {
		case c.send <- data:
		default:
			delete(r.clients, c)
			close(c.send)
		}
	}
}

// ServeSSE upgrades the response to a one-way server-sent-events stream and
// blocks until the client disconnects or the request context is cancelled.
func (t *Tape) ServeSSE(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil
	}

	// The server sets a blanket WriteTimeout for ordinary request/response
	// routes; a price stream is held open indefinitely, so it opts out of
	// that deadline rather than being cut every WriteTimeout interval.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		t.logger.Warn("failed to clear SSE write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := t.subscribers.register()
	defer t.subscribers.unregister(client)

	snap := t.Snapshot()
	if len(snap.Prices) > 0 {
		if data, err := marshalPriceUpdateEvent(snap.Prices, snap.Network, snap.Timestamp); err == nil {
			if err := writeEvent(w, flusher, data); err != nil {
				return nil
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-client.send:
			if !ok {
				return nil
			}
			if err := writeEvent(w, flusher, msg); err != nil {
				return nil
			}
		}
	}
}
