/**
 * @description
 * This file provides a client for communicating with the plan/add-on catalog
 * service. The catalog is the mutable source of truth for plan definitions;
 * this service only reads it at purchase time to freeze snapshots.
 */
package catalogclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/homevia/subscription-service/internal/domain"
)

// Client provides methods to interact with the catalog service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new catalog service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetPlan retrieves a plan definition by id. A 404 from the catalog maps to
// domain.ErrPlanNotFound so callers can degrade instead of failing hard.
func (c *Client) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var plan domain.Plan
	if err := c.get(ctx, fmt.Sprintf("%s/plans/%s", c.baseURL, url.PathEscape(planID)), &plan, domain.ErrPlanNotFound); err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetAddon retrieves an add-on definition by id. A 404 maps to
// domain.ErrAddonNotFound.
func (c *Client) GetAddon(ctx context.Context, addonID string) (*domain.Addon, error) {
	var addon domain.Addon
	if err := c.get(ctx, fmt.Sprintf("%s/addons/%s", c.baseURL, url.PathEscape(addonID)), &addon, domain.ErrAddonNotFound); err != nil {
		return nil, err
	}
	return &addon, nil
}

func (c *Client) get(ctx context.Context, url string, out any, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("Error calling catalog service: %v", err)
		return fmt.Errorf("failed to call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return notFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Catalog service returned status %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse catalog response: %w", err)
	}
	return nil
}
