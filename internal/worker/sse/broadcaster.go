// Package sse pushes prediction and session events to dashboards over
// Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	WriteTimeout = 2 * time.Second
	// KeepAlive is the interval between comment pings on idle streams.
	KeepAlive = 15 * time.Second
	// ReplaySize is the number of recent messages sent to a new client.
	ReplaySize = 32
)

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	mu      sync.Mutex // serializes writes
	once    sync.Once
}

func (c *Client) write(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Writer.Write([]byte(msg)); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients map[string]*Client
	replay  []string
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	client.once.Do(func() { close(client.Done) })

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Recent returns the buffered messages, oldest first.
func (b *Broadcaster) Recent() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.replay))
	copy(out, b.replay)
	return out
}

// Broadcast sends data as an unnamed event.
func (b *Broadcaster) Broadcast(data any) {
	b.Publish("", data)
}

// Publish sends data as a named event to all clients and keeps it for replay.
// Clients whose writes fail or time out are dropped.
func (b *Broadcaster) Publish(event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}

	message := fmt.Sprintf("data: %s\n\n", jsonData)
	if event != "" {
		message = fmt.Sprintf("event: %s\n%s", event, message)
	}

	b.mu.Lock()
	b.replay = append(b.replay, message)
	if len(b.replay) > ReplaySize {
		b.replay = b.replay[len(b.replay)-ReplaySize:]
	}
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.Unlock()

	if len(clients) == 0 {
		return
	}

	deadClientsCh := make(chan *Client, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			b.writeToClient(c, message, deadClientsCh)
		}(client)
	}
	wg.Wait()
	close(deadClientsCh)

	for client := range deadClientsCh {
		b.RemoveClient(client)
	}
}

// writeToClient writes a message to a single client with timeout.
func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- *Client) {
	done := make(chan error, 1)
	go func() { done <- client.write(message) }()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client, marking for removal")
			deadCh <- client
		}
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		deadCh <- client
	case <-client.Done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE streams events until the request ends. New clients first receive
// the replay buffer.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	if err := client.write(fmt.Sprintf("event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)); err != nil {
		return
	}
	for _, msg := range b.Recent() {
		if err := client.write(msg); err != nil {
			return
		}
	}

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if err := client.write(": ping\n\n"); err != nil {
				return
			}
		}
	}
}
