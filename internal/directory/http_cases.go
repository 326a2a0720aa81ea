package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// HTTPCaseDirectory talks to the case directory service.
type HTTPCaseDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCaseDirectory(baseURL string) *HTTPCaseDirectory {
	return &HTTPCaseDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type unallocatedSearchRequest struct {
	CaseQuery
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type unallocatedSearchResponse struct {
	Cases   []models.CollectionCase `json:"cases"`
	HasMore bool                    `json:"hasMore"`
}

func (d *HTTPCaseDirectory) UnallocatedPage(ctx context.Context, query CaseQuery, page int) ([]models.CollectionCase, bool, error) {
	payload := unallocatedSearchRequest{CaseQuery: query, Page: page, PageSize: PageSize}
	var parsed unallocatedSearchResponse
	if err := d.post(ctx, "/cases/unallocated/search", payload, &parsed); err != nil {
		return nil, false, err
	}
	return parsed.Cases, parsed.HasMore, nil
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

type lookupResponse struct {
	Cases []models.CollectionCase `json:"cases"`
}

func (d *HTTPCaseDirectory) CasesByID(ctx context.Context, ids []string) ([]models.CollectionCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var parsed lookupResponse
	if err := d.post(ctx, "/cases/lookup", lookupRequest{IDs: ids}, &parsed); err != nil {
		return nil, err
	}
	return parsed.Cases, nil
}

func (d *HTTPCaseDirectory) EvictUnallocatedCache(ctx context.Context) error {
	return d.post(ctx, "/cases/unallocated/cache/evict", struct{}{}, nil)
}

func (d *HTTPCaseDirectory) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal case directory request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("case directory %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("case directory %s returned %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode case directory response: %w", err)
	}
	return nil
}
