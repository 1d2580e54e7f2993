// Package revision реализует revision tokens документов и классификацию
// входящих записей (create / update / conflict) по optimistic concurrency.
//
// Token имеет формат "generation-contenthash", где generation — монотонный
// счетчик поколений документа, а contenthash — BLAKE2b hash канонической
// JSON сериализации контента. Сравнение токенов — чистая функция двух
// строк и никогда не требует истории документа.
package revision

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Outcome классификация входящей записи против текущего состояния store
type Outcome string

const (
	// OutcomeCreate id неизвестен store
	OutcomeCreate Outcome = "create"
	// OutcomeUpdate base ревизия клиента совпадает с текущей в store
	OutcomeUpdate Outcome = "update"
	// OutcomeConflict store ушел вперед с тех пор, как клиент видел документ
	OutcomeConflict Outcome = "conflict"
)

// hashLen длина content hash в байтах (hex удваивает)
const hashLen = 16

// content каноническая форма контента для хеширования.
// encoding/json сортирует ключи map, поэтому сериализация детерминирована:
// одинаковый контент с двух источников дает одинаковый токен.
type content struct {
	Fields     map[string]any `json:"fields"`
	Generation int64          `json:"generation"`
	Deleted    bool           `json:"deleted"`
}

// New вычисляет revision token для заданного поколения и контента.
func New(generation int64, fields map[string]any, deleted bool) (string, error) {
	if generation < 1 {
		return "", fmt.Errorf("generation must be positive, got %d", generation)
	}

	payload, err := json.Marshal(content{
		Generation: generation,
		Fields:     fields,
		Deleted:    deleted,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal revision content: %w", err)
	}

	sum := blake2b.Sum256(payload)

	return strconv.FormatInt(generation, 10) + "-" + hex.EncodeToString(sum[:hashLen]), nil
}

// Next вычисляет следующую ревизию от базовой: generation+1 над новым контентом.
// Пустой baseRev дает первое поколение.
func Next(baseRev string, fields map[string]any, deleted bool) (string, error) {
	return New(Generation(baseRev)+1, fields, deleted)
}

// Parse разбирает токен на generation и content hash
func Parse(token string) (int64, string, error) {
	gen, hash, ok := strings.Cut(token, "-")
	if !ok {
		return 0, "", fmt.Errorf("invalid revision token %q", token)
	}

	n, err := strconv.ParseInt(gen, 10, 64)
	if err != nil || n < 1 || hash == "" {
		return 0, "", fmt.Errorf("invalid revision token %q", token)
	}

	return n, hash, nil
}

// Generation возвращает поколение токена, 0 для пустого или некорректного
func Generation(token string) int64 {
	n, _, err := Parse(token)
	if err != nil {
		return 0
	}
	return n
}

// Compare упорядочивает два токена: сначала по generation, при равных —
// лексикографически по hash. Детерминированный tie-break нужен, чтобы
// любая реплика выбирала одного и того же победителя.
func Compare(a, b string) int {
	genA, hashA, errA := Parse(a)
	genB, hashB, errB := Parse(b)

	// Некорректный токен всегда проигрывает корректному
	if errA != nil || errB != nil {
		switch {
		case errA == nil:
			return 1
		case errB == nil:
			return -1
		default:
			return strings.Compare(a, b)
		}
	}

	switch {
	case genA != genB:
		if genA < genB {
			return -1
		}
		return 1
	default:
		return strings.Compare(hashA, hashB)
	}
}

// Classify классифицирует входящую запись: чистая функция base и store
// ревизий, без обращения к истории документа.
func Classify(baseRev, storeRev string) Outcome {
	switch {
	case storeRev == "":
		return OutcomeCreate
	case baseRev == storeRev:
		return OutcomeUpdate
	default:
		return OutcomeConflict
	}
}
