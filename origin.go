package tileloader

import "sync"

// originProfile remembers which origins do not honor conditional GET
// requests. Such origins answer a matching If-None-Match or
// If-Modified-Since with a full 200 instead of 304; once observed, the
// loader verifies cached entries against them with HEAD probes instead.
// Marks are monotonic and last for the process lifetime.
type originProfile struct {
	mu       sync.Mutex
	needHead map[string]bool
}

func newOriginProfile() *originProfile {
	return &originProfile{
		needHead: make(map[string]bool),
	}
}

func (p *originProfile) markNeedsHead(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.needHead[host] = true
}

func (p *originProfile) needsHead(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needHead[host]
}
