package sse

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/id"
)

const (
	// managerBuffer is the number of events queued for broadcast.
	managerBuffer = 1000
	// clientBuffer is the number of events buffered per subscriber.
	clientBuffer = 256
)

// Client is one subscriber. Events arrive on EventChan until Done is closed.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string

	// kinds filters delivered events; empty means "receive all".
	kinds map[EventType]bool
}

// Wants reports whether the client subscribed to the given event type.
func (c *Client) Wants(t EventType) bool {
	return len(c.kinds) == 0 || c.kinds[t]
}

// Manager fans events out to any number of independent subscribers.
// Subscribers attach and detach at any time without affecting each other.
type Manager struct {
	clients map[string]*Client
	events  chan Event
	logger  *slog.Logger
	mu      sync.RWMutex
	stopped chan struct{}

	// Shutdown state - protected by shutdownMu
	shutdownMu sync.RWMutex
	shutdown   bool
}

// NewManager creates a new Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients: make(map[string]*Client),
		events:  make(chan Event, managerBuffer),
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

// Start runs the broadcast loop until ctx is cancelled or Shutdown is called.
// It should be called once, in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.stopped)

	m.logger.Info("event manager starting")

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.closeAllClients()
				return
			}
			m.broadcast(event)

		case <-ctx.Done():
			m.logger.Info("event manager stopping")
			m.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting new events, lets Start drain what is queued, and closes all clients.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("event manager shutdown initiated")

	// Mark as shutdown AND close channel atomically while holding lock.
	// This prevents race with Emit() which holds read lock during send.
	m.shutdownMu.Lock()
	if !m.shutdown {
		m.shutdown = true
		close(m.events)
	}
	m.shutdownMu.Unlock()

	select {
	case <-m.stopped:
		m.logger.Info("event manager shutdown complete")
		return nil
	case <-ctx.Done():
		m.logger.Warn("event drain timeout, some events may be lost")
		return ctx.Err()
	}
}

// broadcast sends an event to every subscriber that wants it.
func (m *Manager) broadcast(event Event) {
	var delivered, dropped, filtered int

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, client := range m.clients {
		if !client.Wants(event.Type) {
			filtered++
			continue
		}

		// Non-blocking send (drop if client is slow/stuck).
		select {
		case client.EventChan <- event:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow client",
				slog.String("client_id", client.ID),
				slog.String("event_type", string(event.Type)))
		}
	}

	m.logger.Debug("event broadcast",
		slog.String("event_type", string(event.Type)),
		slog.Int64("item_id", event.ItemID),
		slog.Group("stats",
			slog.Int("delivered", delivered),
			slog.Int("filtered", filtered),
			slog.Int("dropped", dropped)))
}

// Subscribe registers a new client for the given event kinds.
// No kinds means all conversion events.
func (m *Manager) Subscribe(kinds ...EventType) (*Client, error) {
	clientID, err := id.Generate(id.PrefixSubscriber)
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:          clientID,
		EventChan:   make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
		kinds:       make(map[EventType]bool, len(kinds)),
	}
	for _, k := range kinds {
		client.kinds[k] = true
	}

	m.mu.Lock()
	m.clients[client.ID] = client
	totalClients := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("subscriber connected",
		slog.String("client_id", clientID),
		slog.Int("kinds", len(kinds)),
		slog.Int("total_clients", totalClients))
	return client, nil
}

// Unsubscribe removes a client and closes its channels. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(clientID string) {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	totalClients := len(m.clients)
	// Closed under the write lock so broadcast never sends on a closed channel.
	close(client.Done)
	close(client.EventChan)
	m.mu.Unlock()

	m.logger.Info("subscriber disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(client.ConnectedAt)),
		slog.Int("total_clients", totalClients))
}

// Emit queues an event for broadcasting. It never blocks.
func (m *Manager) Emit(event Event) {
	// Hold read lock through the entire send operation.
	// This prevents race with Shutdown() which holds write lock when closing channel.
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()

	if m.shutdown {
		return
	}

	select {
	case m.events <- event:
	default:
		m.logger.Error("event channel full, dropping event",
			slog.String("event_type", string(event.Type)),
			slog.Int64("item_id", event.ItemID))
	}
}

// Clients returns an iterator over all connected clients.
func (m *Manager) Clients() iter.Seq[*Client] {
	return func(yield func(*Client) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		for _, client := range m.clients {
			if !yield(client) {
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// closeAllClients closes all client connections (used during shutdown).
func (m *Manager) closeAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		close(client.Done)
		close(client.EventChan)
	}
	m.clients = make(map[string]*Client)

	m.logger.Info("all subscribers disconnected")
}
