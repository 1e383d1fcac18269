package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"ocpp-rpc/registry"
)

// ConsistentHashBalancer maps charge point identities to nodes using a hash ring.
// The same identity always maps to the same node until the ring changes, so a
// reconnecting charge point returns to the node that already knows its session.
//
// Virtual nodes: each real node is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 nodes might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per node ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.Mutex
	replicas int                       // Virtual nodes per real node
	ring     []uint32                  // Sorted hash values on the ring
	nodes    map[uint32]*registry.Node // Hash value → node mapping
	members  string                    // Addresses the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per node.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*registry.Node),
	}
}

// Add places a node onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(node *registry.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(node)
}

func (b *ConsistentHashBalancer) add(node *registry.Node) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", node.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = node
	}
	// Keep the ring sorted for binary search in Lookup()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Lookup finds the node responsible for key on the current ring.
// It hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node (ring property).
func (b *ConsistentHashBalancer) Lookup(key string) (*registry.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookup(key)
}

func (b *ConsistentHashBalancer) lookup(key string) (*registry.Node, error) {
	if len(b.ring) == 0 {
		return nil, registry.ErrNoNodes
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})

	// Wrap around: if key's hash > all nodes, go to the first node
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// Pick rebuilds the ring when the node set differs from the last call, then looks up key.
func (b *ConsistentHashBalancer) Pick(key string, nodes []registry.Node) (*registry.Node, error) {
	if len(nodes) == 0 {
		return nil, registry.ErrNoNodes
	}

	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Addr
	}
	sort.Strings(addrs)
	members := strings.Join(addrs, ",")

	b.mu.Lock()
	defer b.mu.Unlock()
	if members != b.members {
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]*registry.Node, len(nodes)*b.replicas)
		for i := range nodes {
			node := nodes[i]
			b.add(&node)
		}
		b.members = members
	}
	return b.lookup(key)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
