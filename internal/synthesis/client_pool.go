package synthesis

import (
	"net"
	"net/http"
	"time"

	"voice_gateway/internal/cache"
)

// ClientPool keeps one HTTP client per provider credential so connections are
// reused across requests. Entries expire after ttl and are dropped on transport errors.
type ClientPool struct {
	clients *cache.LRU[int64, *http.Client]
}

// NewClientPool creates a pool holding at most size clients
func NewClientPool(size int, ttl time.Duration) *ClientPool {
	if size <= 0 {
		size = 64
	}
	return &ClientPool{
		clients: cache.NewLRU(size, ttl, func(_ int64, c *http.Client) {
			c.CloseIdleConnections()
		}),
	}
}

// Get returns the client for keyID, creating it on first use
func (p *ClientPool) Get(keyID int64) *http.Client {
	if c, ok := p.clients.Get(keyID); ok {
		return c
	}
	c := newUpstreamClient()
	p.clients.Set(keyID, c)
	return c
}

// Invalidate drops the client for keyID and closes its idle connections
func (p *ClientPool) Invalidate(keyID int64) {
	p.clients.Delete(keyID)
}

// Len returns the number of pooled clients
func (p *ClientPool) Len() int {
	return p.clients.Len()
}

// Sweep closes clients whose lifetime has passed
func (p *ClientPool) Sweep() int {
	return p.clients.CleanupExpired()
}

// Stats returns cache statistics for the pool
func (p *ClientPool) Stats() cache.Stats {
	return p.clients.GetStats()
}

// Close drops every pooled client
func (p *ClientPool) Close() {
	p.clients.Clear()
}

// newUpstreamClient builds a client with its own transport. The per-call deadline
// comes from the request context.
func newUpstreamClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
