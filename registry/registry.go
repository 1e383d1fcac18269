// Package registry keeps track of the CSMS nodes charge points can connect to.
//
// A CSMS node registers the WebSocket URL it serves under a cluster name; charge points
// discover the live nodes of the cluster and pick one (see package loadbalance).
package registry

import (
	"context"
	"errors"
)

var ErrNoNodes = errors.New("no nodes registered")

// Node is one CSMS process accepting charge point connections.
type Node struct {
	Addr         string   `json:"addr"`   // WebSocket base URL, e.g. ws://10.0.0.5:9000/ocpp
	Weight       int      `json:"weight"` // Weight for load balancing
	Subprotocols []string `json:"subprotocols,omitempty"`
}

// Supports reports whether the node speaks subprotocol. A node that lists nothing
// accepts every subprotocol.
func (n Node) Supports(subprotocol string) bool {
	if len(n.Subprotocols) == 0 {
		return true
	}
	for _, s := range n.Subprotocols {
		if s == subprotocol {
			return true
		}
	}
	return false
}

type Registry interface {
	Register(ctx context.Context, cluster string, node Node, ttl int64) error
	Deregister(ctx context.Context, cluster string, addr string) error
	Discover(ctx context.Context, cluster string) ([]Node, error)
	Watch(ctx context.Context, cluster string) <-chan []Node
}
