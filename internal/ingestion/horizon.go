package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// HorizonSource implements LedgerSource against a Horizon REST instance.
// Transient upstream failures (network errors, 5xx, 429) are retried with an
// exponential backoff bounded by maxRetryElapsed; 4xx responses abort the
// fetch immediately.
type HorizonSource struct {
	client          *http.Client
	baseURL         string
	maxRetryElapsed time.Duration
	logger          *slog.Logger
}

func NewHorizonSource(logger *slog.Logger, cfg *config.HorizonConfig, maxRetryElapsed time.Duration) *HorizonSource {
	return &HorizonSource{
		client:          &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:         cfg.URL,
		maxRetryElapsed: maxRetryElapsed,
		logger:          logger,
	}
}

type horizonPage struct {
	Embedded struct {
		Records []*RawOperation `json:"records"`
	} `json:"_embedded"`
}

// taskEndpoint maps a task to its feed path and the operation types it keeps.
// A nil type set keeps every record on the page.
func taskEndpoint(task shared.TaskName) (string, map[string]bool, error) {
	switch task {
	case shared.TaskPayments:
		return "/payments", map[string]bool{
			"payment":                     true,
			"path_payment_strict_send":    true,
			"path_payment_strict_receive": true,
		}, nil
	case shared.TaskTrustlines:
		return "/operations", map[string]bool{"change_trust": true}, nil
	case shared.TaskAccountMerges:
		return "/operations", map[string]bool{"account_merge": true}, nil
	case shared.TaskFeeBumps:
		return "/transactions", nil, nil
	default:
		return "", nil, fmt.Errorf("unknown ingestion task: %s", task)
	}
}

// FetchPage fetches up to limit raw records strictly after cursor.
func (s *HorizonSource) FetchPage(ctx context.Context, task shared.TaskName, cursor string, limit int) (*Page, error) {
	path, keepTypes, err := taskEndpoint(task)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("order", "asc")
	query.Set("include_failed", "true")
	requestURL := s.baseURL + path + "?" + query.Encode()

	var page *Page
	operation := func() error {
		fetched, fetchErr := s.fetchOnce(ctx, requestURL, keepTypes)
		if fetchErr != nil {
			return fetchErr
		}
		page = fetched
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.maxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch %s page after cursor %q: %w", task, cursor, err)
	}
	return page, nil
}

func (s *HorizonSource) fetchOnce(ctx context.Context, requestURL string, keepTypes map[string]bool) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build horizon request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Horizon request failed, will retry", "url", requestURL, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("horizon returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		s.logger.Warn("Horizon returned retryable status", "url", requestURL, "status", resp.StatusCode)
		return nil, err
	}

	var decoded horizonPage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode horizon page: %w", err))
	}

	page := &Page{}
	for _, raw := range decoded.Embedded.Records {
		if raw.PagingToken != "" {
			page.NextCursor = raw.PagingToken
		}
		if keepTypes != nil && !keepTypes[raw.Type] {
			continue
		}
		page.Records = append(page.Records, raw)
	}
	return page, nil
}
