package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// HTTPAgentDirectory talks to the agent directory service.
type HTTPAgentDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAgentDirectory(baseURL string) *HTTPAgentDirectory {
	return &HTTPAgentDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *HTTPAgentDirectory) Agent(ctx context.Context, id string) (models.Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/agents/"+id, nil)
	if err != nil {
		return models.Agent{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return models.Agent{}, fmt.Errorf("agent directory get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return models.Agent{}, &models.NotFoundError{Entity: "agent", ID: id}
	}
	if resp.StatusCode >= 300 {
		return models.Agent{}, fmt.Errorf("agent directory returned %s", resp.Status)
	}
	var agent models.Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return models.Agent{}, fmt.Errorf("decode agent: %w", err)
	}
	return agent, nil
}

type geographySearchRequest struct {
	Geographies []string `json:"geographies"`
}

type agentListResponse struct {
	Agents []models.Agent `json:"agents"`
}

func (d *HTTPAgentDirectory) AgentsByGeographies(ctx context.Context, geographies []string) ([]models.Agent, error) {
	body, err := json.Marshal(geographySearchRequest{Geographies: geographies})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/agents/search/geographies", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent directory geography search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent directory returned %s", resp.Status)
	}
	var parsed agentListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return parsed.Agents, nil
}

func (d *HTTPAgentDirectory) ActiveAgents(ctx context.Context) ([]models.Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/agents/active", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent directory active list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent directory returned %s", resp.Status)
	}
	var parsed agentListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return parsed.Agents, nil
}

type workloadUpdateRequest struct {
	CurrentCaseCount     int             `json:"currentCaseCount"`
	AllocationPercentage decimal.Decimal `json:"allocationPercentage"`
}

func (d *HTTPAgentDirectory) UpdateWorkload(ctx context.Context, id string, caseCount int, allocationPercentage decimal.Decimal) error {
	body, err := json.Marshal(workloadUpdateRequest{
		CurrentCaseCount:     caseCount,
		AllocationPercentage: allocationPercentage,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.baseURL+"/agents/"+id+"/workload", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent directory workload update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &models.NotFoundError{Entity: "agent", ID: id}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent directory returned %s", resp.Status)
	}
	return nil
}
