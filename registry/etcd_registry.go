// etcd-based implementation of the Registry interface.
//
// etcd is used as a "distributed phonebook" for CSMS nodes:
//
//	Key:   /ocpp-rpc/{cluster}/{addr}
//	Value: JSON-encoded Node
//
// Registration uses TTL-based leases: if a node crashes, the lease expires
// and the entry is automatically removed, so charge points never see ghost nodes.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdLogPrefix = "registry:etcd"

const keyPrefix = "/ocpp-rpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister

	ctx    context.Context // bounds KeepAlive loops
	cancel context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to %v: %w", etcdLogPrefix, endpoints, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		leases: make(map[string]clientv3.LeaseID),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func nodeKey(cluster, addr string) string {
	return keyPrefix + cluster + "/" + addr
}

func clusterPrefix(cluster string) string {
	return keyPrefix + cluster + "/"
}

// Register adds a node to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease until Deregister or Close
//
// The lease id is kept per key, not on the struct, so several nodes can share one
// EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, cluster string, node Node, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("%s - failed to grant lease: %w", etcdLogPrefix, err)
	}

	val, err := json.Marshal(node)
	if err != nil {
		return err
	}

	key := nodeKey(cluster, node.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("%s - failed to put %s: %w", etcdLogPrefix, key, err)
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("%s - failed to keep lease alive: %w", etcdLogPrefix, err)
	}

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		slog.Debug(fmt.Sprintf("%s - keepalive stopped for %s", etcdLogPrefix, key))
	}()
	return nil
}

// Deregister removes a node from etcd and revokes its lease.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, cluster string, addr string) error {
	key := nodeKey(cluster, addr)

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("%s - failed to revoke lease for %s: %w", etcdLogPrefix, key, err)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("%s - failed to delete %s: %w", etcdLogPrefix, key, err)
	}
	return nil
}

// Watch monitors a cluster prefix in etcd and emits updated node lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
// The channel is closed when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, cluster string) <-chan []Node {
	ch := make(chan []Node, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, clusterPrefix(cluster), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full node list
			// (simpler than parsing individual watch events)
			nodes, err := r.Discover(ctx, cluster)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - rediscovery failed: %v", etcdLogPrefix, err))
				continue
			}
			select {
			case ch <- nodes:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered nodes of a cluster.
func (r *EtcdRegistry) Discover(ctx context.Context, cluster string) ([]Node, error) {
	resp, err := r.client.Get(ctx, clusterPrefix(cluster), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list %s: %w", etcdLogPrefix, cluster, err)
	}

	nodes := make([]Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			continue // Skip malformed entries
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Close stops lease renewal and closes the etcd client. Registered nodes expire after
// their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
