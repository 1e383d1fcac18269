package loadbalance

import (
	"sync/atomic"

	"ocpp-rpc/registry"
)

// RoundRobinBalancer hands out nodes in order, ignoring the key.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

func (b *RoundRobinBalancer) Pick(_ string, nodes []registry.Node) (*registry.Node, error) {
	if len(nodes) == 0 {
		return nil, registry.ErrNoNodes
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(nodes))
	return &nodes[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
