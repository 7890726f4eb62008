package blockchain

import (
	"fmt"
	"sync"

	"custody.backend/pkg/ratelimit"
)

// ClientFactory hands out one TronClient per node URL. All clients share the
// guard so the node's rate limit holds across them.
type ClientFactory struct {
	clients map[string]*TronClient
	base    TronOptions
	guard   *ratelimit.Guard
	mu      sync.RWMutex
}

// NewClientFactory creates a factory using base for everything but the URL.
func NewClientFactory(base TronOptions, guard *ratelimit.Guard) *ClientFactory {
	return &ClientFactory{
		clients: make(map[string]*TronClient),
		base:    base,
		guard:   guard,
	}
}

// GetTronClient returns the cached client for url or dials a new one.
func (f *ClientFactory) GetTronClient(url string) (*TronClient, error) {
	f.mu.RLock()
	c, ok := f.clients[url]
	f.mu.RUnlock()
	if ok {
		return c, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[url]; ok {
		return c, nil
	}

	opts := f.base
	opts.GRPCURL = url
	c, err := NewTronClient(opts, f.guard)
	if err != nil {
		return nil, fmt.Errorf("failed to create TRON client: %w", err)
	}
	f.clients[url] = c
	return c, nil
}

// RegisterTronClient injects a client for url.
func (f *ClientFactory) RegisterTronClient(url string, c *TronClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[url] = c
}

// Close stops every cached client
func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, c := range f.clients {
		c.Close()
		delete(f.clients, url)
	}
}
