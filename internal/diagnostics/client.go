// Package diagnostics предоставляет клиент внешнего сервиса диагностики батарей.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoData возвращается, если по коду батареи нет данных.
	ErrNoData = errors.New("no diagnostic data for battery code")
	// ErrUnavailable возвращается при сетевых ошибках и ответах 5xx.
	ErrUnavailable = errors.New("diagnostics service unavailable")
)

// RateLimitError возвращается при ответе 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("diagnostics rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrUnavailable }

// Report — живая телеметрия батареи и список внутренних дефектов,
// вычисленный сервисом диагностики.
type Report struct {
	Code            string   `json:"code"`
	BatteryID       string   `json:"batteryId"`
	SOC             float64  `json:"soc"`
	Voltage         float64  `json:"voltage"`
	Temperature     float64  `json:"temperature"`
	CycleCount      int      `json:"cycleCount"`
	CurrentCapacity float64  `json:"currentCapacity"`
	InternalFeeIDs  []string `json:"internalFeeIds"`
}

// Client инкапсулирует HTTP-взаимодействие с сервисом диагностики.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к сервису диагностики по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Inspect запрашивает телеметрию и внутренние дефекты батареи по её коду.
func (c *Client) Inspect(ctx context.Context, code string) (*Report, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("diagnostics client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	endpoint := fmt.Sprintf("%s/api/batteries/%s/diagnostics", base, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Report
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Code == "" {
		result.Code = code
	}

	return &result, nil
}
