package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/model"
)

// ErrNotFound is returned when the processor does not know the job or campaign
var ErrNotFound = errors.New("not found")

// ProcessorClient talks to the status, list and export endpoints of the
// remote job processor
type ProcessorClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// NewProcessorClient creates a new processor client
func NewProcessorClient(cfg *config.ProcessorConfig, logger *zap.Logger) *ProcessorClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessorClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		logger:  logger,
	}
}

// BaseURL returns the processor base URL
func (c *ProcessorClient) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token sent with requests
func (c *ProcessorClient) Token() string {
	return c.token
}

// FetchStatus retrieves the status report of one job
func (c *ProcessorClient) FetchStatus(ctx context.Context, jobID string) (*model.StatusReport, error) {
	var result model.StatusReport
	if err := c.get(ctx, "/api/jobs/"+url.PathEscape(jobID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs retrieves the authoritative job list
func (c *ProcessorClient) ListJobs(ctx context.Context) ([]model.StatusReport, error) {
	var result model.JobListResponse
	if err := c.get(ctx, "/api/jobs", &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// DismissJob deletes a job on the processor
func (c *ProcessorClient) DismissJob(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Export streams the exported result of a ready job. The caller closes the
// returned reader.
func (c *ProcessorClient) Export(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/export", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// CreateCampaign creates a campaign record
func (c *ProcessorClient) CreateCampaign(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	var result model.Campaign
	if err := c.send(ctx, http.MethodPost, "/api/campaigns", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListCampaigns retrieves the caller's campaigns, newest first
func (c *ProcessorClient) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var result model.CampaignListResponse
	if err := c.get(ctx, "/api/campaigns", &result); err != nil {
		return nil, err
	}
	return result.Campaigns, nil
}

// GetCampaign retrieves a campaign with its derived status
func (c *ProcessorClient) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var result model.Campaign
	if err := c.get(ctx, "/api/campaigns/"+url.PathEscape(id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AttachJob links a job to a campaign
func (c *ProcessorClient) AttachJob(ctx context.Context, campaignID, jobID string) (*model.Campaign, error) {
	var result model.Campaign
	path := fmt.Sprintf("/api/campaigns/%s/jobs/%s", url.PathEscape(campaignID), url.PathEscape(jobID))
	if err := c.send(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Compose asks the processor for the locator of an asset with settings applied
func (c *ProcessorClient) Compose(ctx context.Context, req *model.ComposeRequest) (*model.ComposeResponse, error) {
	var result model.ComposeResponse
	if err := c.send(ctx, http.MethodPost, "/api/effects/compose", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ProcessorClient) get(ctx context.Context, endpoint string, result interface{}) error {
	return c.send(ctx, http.MethodGet, endpoint, nil, result)
}

func (c *ProcessorClient) send(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		c.logger.Warn("processor response not decodable", zap.String("url", req.URL.String()), zap.Error(err))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *ProcessorClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes the request and turns non-2xx responses into errors
func (c *ProcessorClient) do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("processor request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("processor request failed", zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Debug("processor error response", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	return nil, fmt.Errorf("processor error (status %d): %s", resp.StatusCode, string(body))
}
