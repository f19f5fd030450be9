package hedge

import "sync/atomic"

// Endpoint identifies a single candidate destination for an attempt. Authority is the dial target (host:port, a
// service name, whatever the delegate transport expects); adapters are free to carry more through their own
// wrapping of DelegateClient.
type Endpoint struct {
	Authority string
}

// EndpointGroup is the pool of candidate destinations an Engine selects a fresh Endpoint from for every non-initial
// attempt (spec §4.5). It is treated as an externally supplied collaborator (spec §1); RoundRobinGroup is a minimal
// conforming implementation so the Engine is runnable without a real service-discovery backend wired in.
type EndpointGroup interface {
	// SelectNow synchronously and non-blockingly selects an endpoint, or returns ok=false if none is available.
	SelectNow() (Endpoint, bool)
}

// RoundRobinGroup is an EndpointGroup that cycles through a fixed list of endpoints.
type RoundRobinGroup struct {
	endpoints []Endpoint
	cursor    atomic.Uint64
}

// NewRoundRobinGroup returns a RoundRobinGroup cycling through endpoints in order. An empty list is permitted;
// SelectNow then always reports ok=false.
func NewRoundRobinGroup(endpoints ...Endpoint) *RoundRobinGroup {
	return &RoundRobinGroup{endpoints: endpoints}
}

func (g *RoundRobinGroup) SelectNow() (Endpoint, bool) {
	if len(g.endpoints) == 0 {
		return Endpoint{}, false
	}
	i := g.cursor.Add(1) - 1
	return g.endpoints[i%uint64(len(g.endpoints))], true
}
