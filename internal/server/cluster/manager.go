// Package cluster хранит состояние кластерного членства одного узла store:
// включение кластерного режима, список узлов, коллекции с фиксированным
// шардированием.
package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/akarpov/crmsync/pkg/api"
)

var (
	// ErrNotEnabled операция требует включенного кластерного режима
	ErrNotEnabled = errors.New("clustering is not enabled")

	// ErrShardingImmutable коллекция существует с другой конфигурацией
	// шардирования; конфигурация фиксируется при создании
	ErrShardingImmutable = errors.New("collection sharding is immutable")
)

// Manager отслеживает кластерное состояние узла.
// Все методы безопасны для конкурентного вызова.
type Manager struct {
	nodes       map[string]string
	collections map[string]api.ShardConfig
	self        string
	sharding    api.ShardConfig
	mu          sync.Mutex
	enabled     bool
	finished    bool
}

// NewManager создает менеджер кластерного состояния узла self
func NewManager(self string) *Manager {
	return &Manager{
		self:        self,
		nodes:       make(map[string]string),
		collections: make(map[string]api.ShardConfig),
	}
}

// Enable включает кластерный режим с заданным шардированием.
// Повторное включение с той же конфигурацией — no-op.
func (m *Manager) Enable(cfg api.ShardConfig) error {
	if cfg.Shards <= 0 || cfg.Replicas <= 0 {
		return fmt.Errorf("invalid shard config: shards=%d replicas=%d", cfg.Shards, cfg.Replicas)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled {
		if m.sharding != cfg {
			return fmt.Errorf("%w: enabled with shards=%d replicas=%d",
				ErrShardingImmutable, m.sharding.Shards, m.sharding.Replicas)
		}
		return nil
	}

	m.enabled = true
	m.sharding = cfg
	m.nodes[m.self] = "joined"

	return nil
}

// AddNode добавляет узел в членство. Идемпотентно.
func (m *Manager) AddNode(addr string) error {
	if addr == "" {
		return fmt.Errorf("node addr is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return ErrNotEnabled
	}
	m.nodes[addr] = "joined"

	return nil
}

// Finish завершает bootstrap. Повторный вызов — no-op.
func (m *Manager) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return ErrNotEnabled
	}
	m.finished = true

	return nil
}

// Membership возвращает текущее членство с детерминированным порядком узлов
func (m *Manager) Membership() api.MembershipResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs := make([]string, 0, len(m.nodes))
	for addr := range m.nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	nodes := make([]api.MemberNode, 0, len(addrs))
	for _, addr := range addrs {
		nodes = append(nodes, api.MemberNode{Addr: addr, State: m.nodes[addr]})
	}

	return api.MembershipResponse{Nodes: nodes, Finished: m.finished}
}

// EnsureCollection создает коллекцию с заданным шардированием.
// Существующая коллекция с той же конфигурацией — no-op; с другой —
// ErrShardingImmutable, расхождение никогда не игнорируется молча.
func (m *Manager) EnsureCollection(name string, cfg api.ShardConfig) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("collection name is empty")
	}
	if cfg.Shards <= 0 || cfg.Replicas <= 0 {
		return false, fmt.Errorf("invalid shard config: shards=%d replicas=%d", cfg.Shards, cfg.Replicas)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[name]; ok {
		if existing != cfg {
			return false, fmt.Errorf("%w: %s has shards=%d replicas=%d",
				ErrShardingImmutable, name, existing.Shards, existing.Replicas)
		}
		return false, nil
	}

	m.collections[name] = cfg

	return true, nil
}
