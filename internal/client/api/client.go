package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/akarpov/crmsync/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI определяет интерфейс клиента синхронизации
type ClientAPI interface {
	// BulkPush отправляет пакет документов на bulk write endpoint
	BulkPush(ctx context.Context, req api.BulkRequest) (*api.BulkResponse, error)

	// Changes читает страницу ленты изменений начиная с checkpoint
	Changes(ctx context.Context, since int64, limit int) (*api.ChangesResponse, error)
}

// TransientError помечает сбой, который можно повторить с backoff:
// сетевые ошибки и 5xx/429 ответы сервера. Отклонения Validation Gate
// никогда не заворачиваются в TransientError.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, является ли ошибка временной
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// BulkPush отправляет пакет документов на bulk write endpoint
func (c *Client) BulkPush(ctx context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
	var resp api.BulkResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/bulk", req, &resp); err != nil {
		return nil, fmt.Errorf("bulk push failed: %w", err)
	}
	return &resp, nil
}

// Changes читает страницу ленты изменений начиная с checkpoint
func (c *Client) Changes(ctx context.Context, since int64, limit int) (*api.ChangesResponse, error) {
	var resp api.ChangesResponse
	path := "/api/v1/changes?since=" + strconv.FormatInt(since, 10) +
		"&limit=" + strconv.Itoa(limit)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("changes request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

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
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевые сбои временные: retry с backoff на стороне Sync Engine
		return &TransientError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 400:
		// Терминальная ошибка: не повторяется автоматически
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
