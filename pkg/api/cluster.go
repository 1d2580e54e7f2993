package api

// ShardConfig конфигурация шардирования коллекции: количество шардов и
// фактор репликации. Фиксируется при создании коллекции и не меняется.
type ShardConfig struct {
	Shards   int `json:"shards"`
	Replicas int `json:"replicas"`
}

// ClusterEnableRequest включает кластерный режим на узле
type ClusterEnableRequest struct {
	Sharding ShardConfig `json:"sharding"`
}

// AddNodeRequest добавляет узел в членство кластера через координатора
type AddNodeRequest struct {
	Addr string `json:"addr"`
}

// MemberNode один узел в ответе membership
type MemberNode struct {
	Addr  string `json:"addr"`
	State string `json:"state"`
}

// MembershipResponse текущее членство кластера с точки зрения узла
type MembershipResponse struct {
	Nodes    []MemberNode `json:"nodes"`
	Finished bool         `json:"finished"`
}

// EnsureCollectionRequest создает коллекцию с заданным шардированием.
// Повторный запрос с той же конфигурацией — no-op; с другой — ошибка.
type EnsureCollectionRequest struct {
	Name     string      `json:"name"`
	Sharding ShardConfig `json:"sharding"`
}
