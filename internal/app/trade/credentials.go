package trade

import (
	"sync"

	"github.com/coachpo/cntrade/internal/infra/protocol"
)

// credentialCache holds the last successful unlock secret in memory only.
// Concurrent writers resolve as last-writer-wins.
type credentialCache struct {
	mu    sync.Mutex
	creds protocol.Credentials
	set   bool
}

func (c *credentialCache) store(creds protocol.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.set = true
}

func (c *credentialCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = protocol.Credentials{}
	c.set = false
}

func (c *credentialCache) load() (protocol.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds, c.set
}
