package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-node deployments and tests.
// TTLs are ignored: a node stays until it is deregistered.
type MemoryRegistry struct {
	mu       sync.Mutex
	clusters map[string]map[string]Node
	watchers map[string][]chan []Node
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		clusters: make(map[string]map[string]Node),
		watchers: make(map[string][]chan []Node),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, cluster string, node Node, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clusters[cluster] == nil {
		r.clusters[cluster] = make(map[string]Node)
	}
	r.clusters[cluster][node.Addr] = node
	r.notify(cluster)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, cluster string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clusters[cluster], addr)
	r.notify(cluster)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, cluster string) ([]Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(cluster), nil
}

// Watch emits the node list after every change until ctx ends. A slow reader only
// sees the latest list.
func (r *MemoryRegistry) Watch(ctx context.Context, cluster string) <-chan []Node {
	ch := make(chan []Node, 1)

	r.mu.Lock()
	r.watchers[cluster] = append(r.watchers[cluster], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[cluster]
		for i, w := range watchers {
			if w == ch {
				r.watchers[cluster] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify must be called with r.mu held.
func (r *MemoryRegistry) notify(cluster string) {
	nodes := r.snapshot(cluster)
	for _, ch := range r.watchers[cluster] {
		// Replace a stale, unread list.
		select {
		case <-ch:
		default:
		}
		ch <- nodes
	}
}

func (r *MemoryRegistry) snapshot(cluster string) []Node {
	nodes := make([]Node, 0, len(r.clusters[cluster]))
	for _, n := range r.clusters[cluster] {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Addr < nodes[j].Addr })
	return nodes
}
