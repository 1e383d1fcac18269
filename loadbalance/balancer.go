// Package loadbalance picks the CSMS node a charge point connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity nodes
//   - WeightedRandom:  heterogeneous nodes (different CPU/memory)
//   - ConsistentHash:  the same charge point lands on the same node while the ring is stable
package loadbalance

import (
	"fmt"

	"ocpp-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one node for the charge point identified by key.
	// Must be goroutine-safe.
	Pick(key string, nodes []registry.Node) (*registry.Node, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

const (
	StrategyRoundRobin     = "round-robin"
	StrategyWeightedRandom = "weighted-random"
	StrategyConsistentHash = "consistent-hash"
)

// New returns the balancer for a strategy name.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case StrategyRoundRobin:
		return &RoundRobinBalancer{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case StrategyConsistentHash, "":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", strategy)
	}
}
