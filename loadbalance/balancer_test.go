package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"ocpp-rpc/registry"
)

var testNodes = []registry.Node{
	{Addr: "ws://n1:9000/ocpp", Weight: 10},
	{Addr: "ws://n2:9000/ocpp", Weight: 5},
	{Addr: "ws://n3:9000/ocpp", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all nodes
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		node, err := b.Pick("", testNodes)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = node.Addr
	}

	// Pick again, should wrap around to first
	node, _ := b.Pick("", testNodes)
	if node.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], node.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick("", nil); !errors.Is(err, registry.ErrNoNodes) {
		t.Fatalf("expect ErrNoNodes, got %v", err)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		node, err := b.Pick("", testNodes)
		if err != nil {
			t.Fatal(err)
		}
		counts[node.Addr]++
	}

	// Weight ratio is 10:5:10, so n1 and n3 should be ~2x of n2
	ratio := float64(counts["ws://n1:9000/ocpp"]) / float64(counts["ws://n2:9000/ocpp"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio n1/n2 = %.2f, expect ~2.0", ratio)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testNodes {
		b.Add(&testNodes[i])
	}

	// Same key should always map to the same node
	node1, _ := b.Lookup("CP-123")
	node2, _ := b.Lookup("CP-123")
	if node1.Addr != node2.Addr {
		t.Fatalf("same key mapped to different nodes: %s vs %s", node1.Addr, node2.Addr)
	}

	// Different keys should (likely) map to different nodes
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		node, _ := b.Lookup(fmt.Sprintf("CP-%d", i))
		seen[node.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different nodes, got %d", len(seen))
	}
}

func TestConsistentHashPickFollowsNodeSet(t *testing.T) {
	b := NewConsistentHashBalancer()

	first, err := b.Pick("CP-42", testNodes)
	if err != nil {
		t.Fatal(err)
	}
	// Order of the discovered list does not matter.
	reversed := []registry.Node{testNodes[2], testNodes[1], testNodes[0]}
	again, _ := b.Pick("CP-42", reversed)
	if again.Addr != first.Addr {
		t.Fatalf("same node set gave %s then %s", first.Addr, again.Addr)
	}

	// Removing the chosen node moves the key to a surviving node.
	var rest []registry.Node
	for _, n := range testNodes {
		if n.Addr != first.Addr {
			rest = append(rest, n)
		}
	}
	moved, _ := b.Pick("CP-42", rest)
	if moved.Addr == first.Addr {
		t.Fatal("key still mapped to a removed node")
	}

	if _, err := b.Pick("CP-42", nil); !errors.Is(err, registry.ErrNoNodes) {
		t.Fatalf("expect ErrNoNodes, got %v", err)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{StrategyRoundRobin, StrategyWeightedRandom, StrategyConsistentHash, ""} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("unknown strategy should fail")
	}
}
