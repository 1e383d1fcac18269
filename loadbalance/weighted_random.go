package loadbalance

import (
	"math/rand"

	"ocpp-rpc/registry"
)

// WeightedRandomBalancer picks a node with probability proportional to its weight.
// Nodes with a non-positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, nodes []registry.Node) (*registry.Node, error) {
	if len(nodes) == 0 {
		return nil, registry.ErrNoNodes
	}

	// 计算总权重
	totalWeight := 0
	for _, n := range nodes {
		totalWeight += weightOf(n)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.Intn(totalWeight)
	for i := range nodes {
		r -= weightOf(nodes[i])
		if r < 0 {
			return &nodes[i], nil
		}
	}
	return &nodes[len(nodes)-1], nil
}

func weightOf(n registry.Node) int {
	if n.Weight <= 0 {
		return 1
	}
	return n.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
