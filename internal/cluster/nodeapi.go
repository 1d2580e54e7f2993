package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akarpov/crmsync/pkg/api"
)

//go:generate moq -out nodeapi_mock.go . NodeAPI

// NodeAPI определяет операции cluster-setup против одного узла store
type NodeAPI interface {
	// HealthCheck проверяет доступность узла
	HealthCheck(ctx context.Context, node string) error

	// EnableClustering включает кластерный режим на узле
	EnableClustering(ctx context.Context, node string, cfg api.ShardConfig) error

	// AddNode добавляет узел node в членство через координатора
	AddNode(ctx context.Context, coordinator, node string) error

	// Finish завершает bootstrap на координаторе; повторный вызов no-op
	Finish(ctx context.Context, coordinator string) error

	// Membership возвращает членство кластера с точки зрения узла
	Membership(ctx context.Context, node string) (*api.MembershipResponse, error)

	// EnsureCollection создает коллекцию с заданным шардированием.
	// Возвращает ErrShardingImmutable, если коллекция существует с другой
	// конфигурацией.
	EnsureCollection(ctx context.Context, coordinator, name string, cfg api.ShardConfig) error
}

// HTTPNodeAPI реализация NodeAPI поверх HTTP endpoints узла
type HTTPNodeAPI struct {
	httpClient *http.Client
	token      string
}

// NewHTTPNodeAPI создает HTTP реализацию NodeAPI
func NewHTTPNodeAPI(token string) *HTTPNodeAPI {
	return &HTTPNodeAPI{
		token: token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// HealthCheck проверяет доступность узла
func (a *HTTPNodeAPI) HealthCheck(ctx context.Context, node string) error {
	return a.do(ctx, http.MethodGet, node, "/api/v1/health", nil, nil)
}

// EnableClustering включает кластерный режим на узле
func (a *HTTPNodeAPI) EnableClustering(ctx context.Context, node string, cfg api.ShardConfig) error {
	req := api.ClusterEnableRequest{Sharding: cfg}
	return a.do(ctx, http.MethodPost, node, "/api/v1/cluster/enable", req, nil)
}

// AddNode добавляет узел в членство через координатора
func (a *HTTPNodeAPI) AddNode(ctx context.Context, coordinator, node string) error {
	req := api.AddNodeRequest{Addr: node}
	return a.do(ctx, http.MethodPost, coordinator, "/api/v1/cluster/nodes", req, nil)
}

// Finish завершает bootstrap на координаторе
func (a *HTTPNodeAPI) Finish(ctx context.Context, coordinator string) error {
	return a.do(ctx, http.MethodPost, coordinator, "/api/v1/cluster/finish", nil, nil)
}

// Membership возвращает членство кластера с точки зрения узла
func (a *HTTPNodeAPI) Membership(ctx context.Context, node string) (*api.MembershipResponse, error) {
	var resp api.MembershipResponse
	if err := a.do(ctx, http.MethodGet, node, "/api/v1/cluster/membership", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnsureCollection создает коллекцию с заданным шардированием
func (a *HTTPNodeAPI) EnsureCollection(ctx context.Context, coordinator, name string, cfg api.ShardConfig) error {
	req := api.EnsureCollectionRequest{Name: name, Sharding: cfg}
	return a.do(ctx, http.MethodPut, coordinator, "/api/v1/cluster/collections", req, nil)
}

func (a *HTTPNodeAPI) do(ctx context.Context, method, node, path string, body, result any) error {
	url := "http://" + node + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node %s unreachable: %w", node, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", node, err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrShardingImmutable, respBody)
	case resp.StatusCode >= 400:
		return fmt.Errorf("node %s returned %d: %s", node, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response from %s: %w", node, err)
		}
	}

	return nil
}
