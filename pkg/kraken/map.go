package kraken

import (
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the client Map from flags.
func Configured() *Map {
	m := NewMap(Options{})

	url := lflag.String("kraken-graphql-url", DefaultURL, "Kraken GraphQL endpoint")
	timeout := lflag.Duration("kraken-timeout", 30*time.Second, "Timeout of a single Kraken request")
	interval := lflag.Duration("kraken-min-request-interval", 500*time.Millisecond, "Minimum time between Kraken requests of a config entry (0 disables the limit)")
	logAPI := lflag.Bool("kraken-log-api-responses", false, "Log every Kraken API response body at info level")
	logToken := lflag.Bool("kraken-log-token-responses", false, "Log token responses with the token masked")

	lflag.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.opts = Options{
			URL:                *url,
			Timeout:            *timeout,
			MinRequestInterval: *interval,
			LogAPIResponses:    *logAPI,
			LogTokenResponses:  *logToken,
		}
	})

	return m
}

// Map holds one client per config entry so each entry has its own token
// cache and refresh lock.
type Map struct {
	mu      sync.Mutex
	opts    Options
	clients map[string]*Client
}

// NewMap creates a new client Map.
func NewMap(opts Options) *Map {
	return &Map{
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Entry returns the client for the given entry, creating it if needed.
func (m *Map) Entry(entryID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[entryID]; ok {
		return c
	}
	c := NewClient(m.opts)
	m.clients[entryID] = c
	return c
}

// NewClient returns a client that is not tracked by the map, used to
// validate credentials before an entry exists.
func (m *Map) NewClient() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewClient(m.opts)
}

// Remove forgets the client of an entry, dropping its token.
func (m *Map) Remove(entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, entryID)
}
