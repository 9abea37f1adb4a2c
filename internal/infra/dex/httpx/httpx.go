// Package httpx provides the shared HTTP client behavior used by every
// DEX aggregator adapter: a pre-configured client that stamps the current
// block hash onto outgoing requests, to make responses cacheable by an
// egress proxy.
package httpx

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockWatcher reports the hash of the chain's current head block. nil
// when block stamping is disabled.
type BlockWatcher interface {
	CurrentBlockHash() common.Hash
}

// Client wraps an *http.Client to apply cross-cutting headers to every
// outgoing request.
type Client struct {
	HTTP    *http.Client
	Watcher BlockWatcher
}

// New creates a Client with the given timeout. watcher may be nil to
// disable block-hash header stamping.
func New(timeout time.Duration, watcher BlockWatcher) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		Watcher: watcher,
	}
}

// Do executes req after stamping the X-CURRENT-BLOCK-HASH header, if a
// block watcher is configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.Watcher != nil {
		req.Header.Set("X-CURRENT-BLOCK-HASH", c.Watcher.CurrentBlockHash().Hex())
	}
	return c.HTTP.Do(req)
}

// PollingBlockWatcher polls an RPC endpoint for the latest block hash on
// an interval, caching the most recent value for cheap concurrent reads.
type PollingBlockWatcher struct {
	mu   sync.RWMutex
	hash common.Hash
}

func (w *PollingBlockWatcher) CurrentBlockHash() common.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hash
}

// Set updates the cached block hash; called by the poll loop in cmd/solvers.
func (w *PollingBlockWatcher) Set(h common.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hash = h
}
