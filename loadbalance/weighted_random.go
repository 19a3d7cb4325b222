package loadbalance

import (
	"esprpc/registry"
	"math/rand"
)

type WeightedRandomBalancer struct{}

func weight(ep registry.Endpoint) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}

func (b *WeightedRandomBalancer) Pick(eps []registry.Endpoint) (*registry.Endpoint, error) {
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}

	// 计算总权重
	total := 0
	for _, ep := range eps {
		total += weight(ep)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.Intn(total)
	for i := range eps {
		r -= weight(eps[i])
		if r < 0 {
			return &eps[i], nil
		}
	}
	return &eps[len(eps)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
