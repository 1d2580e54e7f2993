// Package cluster поднимает кластер узлов store: health check всех узлов,
// включение кластерного режима, сбор членства через координатора и
// верификация результата.
package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// NodeState состояние узла в процессе bootstrap
type NodeState string

const (
	// StateUnknown узел еще не проверялся
	StateUnknown NodeState = "unknown"
	// StateHealthy узел ответил на health check
	StateHealthy NodeState = "healthy"
	// StateEnabled кластерный режим включен на узле
	StateEnabled NodeState = "enabled"
	// StateJoined узел добавлен в членство кластера
	StateJoined NodeState = "joined"
	// StateQuorate узел подтвержден в членстве после верификации
	StateQuorate NodeState = "quorate"
)

// ErrShardingImmutable коллекция уже существует с другой конфигурацией
// шардирования; конфигурация фиксируется при создании
var ErrShardingImmutable = errors.New("collection sharding is immutable")

// QuorumError health check провалился хотя бы на одном узле:
// bootstrap прерван до каких-либо действий над топологией
type QuorumError struct {
	Failed []string
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("quorum-failure: nodes unreachable: %s", strings.Join(e.Failed, ", "))
}

// Report итог верификации членства
type Report struct {
	Joined  []string
	Missing []string
	Warning string
	Quorate bool
}
