package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/akarpov/crmsync/pkg/api"
)

// Coordinator поднимает кластер по списку узлов. Первый узел списка —
// координатор: add-node и finish выполняются только против него.
//
// Одноразовый и последовательный: не предназначен для конкурентного
// вызова Bootstrap/Verify.
type Coordinator struct {
	api      NodeAPI
	logger   *slog.Logger
	states   map[string]NodeState
	nodes    []string
	sharding api.ShardConfig
}

// New создает координатор bootstrap. Первый узел nodes — координатор.
func New(nodeAPI NodeAPI, nodes []string, sharding api.ShardConfig, logger *slog.Logger) (*Coordinator, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one node required")
	}
	if sharding.Shards <= 0 || sharding.Replicas <= 0 {
		return nil, fmt.Errorf("invalid shard config: shards=%d replicas=%d", sharding.Shards, sharding.Replicas)
	}
	if logger == nil {
		logger = slog.Default()
	}

	states := make(map[string]NodeState, len(nodes))
	for _, node := range nodes {
		states[node] = StateUnknown
	}

	return &Coordinator{
		api:      nodeAPI,
		nodes:    nodes,
		sharding: sharding,
		logger:   logger,
		states:   states,
	}, nil
}

// States возвращает текущее состояние каждого узла
func (c *Coordinator) States() map[string]NodeState {
	out := make(map[string]NodeState, len(c.states))
	for node, state := range c.states {
		out[node] = state
	}
	return out
}

// Bootstrap выполняет fail-closed подъем кластера: сначала health check
// ВСЕХ узлов, любой сбой прерывает процесс до каких-либо действий над
// топологией. Затем по порядку: enable на каждом узле, add каждого
// не-координатора через координатора, finish.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	// Фаза 1: все узлы должны быть доступны до первого изменения
	var failed []string
	for _, node := range c.nodes {
		if err := c.api.HealthCheck(ctx, node); err != nil {
			c.logger.Error("health check failed", "node", node, "error", err)
			failed = append(failed, node)
			continue
		}
		c.states[node] = StateHealthy
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return &QuorumError{Failed: failed}
	}

	// Фаза 2: включаем кластерный режим на каждом узле
	for _, node := range c.nodes {
		if err := c.api.EnableClustering(ctx, node, c.sharding); err != nil {
			return fmt.Errorf("failed to enable clustering on %s: %w", node, err)
		}
		c.states[node] = StateEnabled
		c.logger.Info("clustering enabled", "node", node)
	}

	// Фаза 3: членство собирается через единственного координатора
	coordinator := c.nodes[0]
	c.states[coordinator] = StateJoined
	for _, node := range c.nodes[1:] {
		if err := c.api.AddNode(ctx, coordinator, node); err != nil {
			return fmt.Errorf("failed to add node %s: %w", node, err)
		}
		c.states[node] = StateJoined
		c.logger.Info("node joined", "node", node, "coordinator", coordinator)
	}

	// Фаза 4: finish идемпотентен, повторный bootstrap безопасен
	if err := c.api.Finish(ctx, coordinator); err != nil {
		return fmt.Errorf("failed to finish bootstrap: %w", err)
	}
	c.logger.Info("bootstrap finished", "coordinator", coordinator, "nodes", len(c.nodes))

	return nil
}

// Verify перечитывает членство с координатора и сверяет с запрошенным
// списком узлов. Частичный join не проглатывается: недостающие узлы
// попадают в Warning отчета. Полный join переводит узлы в quorate.
func (c *Coordinator) Verify(ctx context.Context) (*Report, error) {
	membership, err := c.api.Membership(ctx, c.nodes[0])
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}

	joined := make(map[string]bool, len(membership.Nodes))
	for _, member := range membership.Nodes {
		joined[member.Addr] = true
	}

	report := &Report{}
	for _, node := range c.nodes {
		if joined[node] {
			report.Joined = append(report.Joined, node)
			continue
		}
		report.Missing = append(report.Missing, node)
	}

	if len(report.Missing) > 0 {
		sort.Strings(report.Missing)
		report.Warning = fmt.Sprintf("partial join: %d of %d nodes in membership, missing %v",
			len(report.Joined), len(c.nodes), report.Missing)
		c.logger.Warn("membership incomplete", "missing", report.Missing)
		return report, nil
	}

	report.Quorate = true
	for _, node := range c.nodes {
		c.states[node] = StateQuorate
	}

	return report, nil
}

// EnsureCollection создает коллекцию с конфигурацией шардирования
// кластера. Существующая коллекция с той же конфигурацией — no-op;
// с другой — ErrShardingImmutable, расхождение не игнорируется.
func (c *Coordinator) EnsureCollection(ctx context.Context, name string) error {
	if err := c.api.EnsureCollection(ctx, c.nodes[0], name, c.sharding); err != nil {
		return fmt.Errorf("failed to ensure collection %q: %w", name, err)
	}
	return nil
}
