package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ListModels fetches the upstream model listing, or returns the pinned
// list when the config supplies one.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if len(c.cfg.Models) > 0 {
		models := make([]Model, 0, len(c.cfg.Models))
		for _, id := range c.cfg.Models {
			models = append(models, Model{ID: id, Object: "model", OwnedBy: c.id})
		}
		return models, nil
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/")
	switch c.cfg.Type {
	case "anthropic":
		url += "/v1/models"
	default:
		url += "/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	c.authenticate(req, c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, c.transportErr("list models", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{
			Kind:     FailureProvider,
			Provider: c.id,
			Status:   resp.StatusCode,
			Message:  "model listing returned " + resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, c.transportErr("read models response", err)
	}

	return parseModelList(c.id, c.cfg.Type == "google", body)
}

func parseModelList(provider string, google bool, body []byte) ([]Model, error) {
	if google {
		var wire struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("unmarshal model listing: %w", err)
		}
		models := make([]Model, 0, len(wire.Models))
		for _, m := range wire.Models {
			models = append(models, Model{
				ID:      strings.TrimPrefix(m.Name, "models/"),
				Object:  "model",
				OwnedBy: provider,
			})
		}
		return models, nil
	}

	var wire struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal model listing: %w", err)
	}
	models := make([]Model, 0, len(wire.Data))
	for _, m := range wire.Data {
		models = append(models, Model{ID: m.ID, Object: "model", OwnedBy: provider})
	}
	return models, nil
}

// Catalog aggregates model listings across providers and serves them
// from a TTL cache with background refresh.
type Catalog struct {
	clients []*Client
	ttl     time.Duration
	logger  zerolog.Logger

	mu        sync.RWMutex
	models    []Model
	fetchedAt time.Time
}

// NewCatalog builds a catalog over the given clients.
func NewCatalog(clients []*Client, ttl time.Duration, logger zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{clients: clients, ttl: ttl, logger: logger}
}

// Models returns the aggregated listing, refreshing on a cold or
// expired cache.
func (d *Catalog) Models(ctx context.Context) []Model {
	d.mu.RLock()
	fresh := d.models != nil && time.Since(d.fetchedAt) < d.ttl
	models := d.models
	d.mu.RUnlock()

	if fresh {
		return models
	}
	return d.refresh(ctx)
}

// refresh fetches every provider's listing. Providers that fail keep
// the catalog partial rather than failing the whole listing.
func (d *Catalog) refresh(ctx context.Context) []Model {
	var all []Model
	for _, c := range d.clients {
		models, err := c.ListModels(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Str("provider", c.ID()).Msg("model discovery failed")
			continue
		}
		for _, m := range models {
			m.ID = c.ID() + "/" + m.ID
			all = append(all, m)
		}
	}

	d.mu.Lock()
	d.models = all
	d.fetchedAt = time.Now()
	d.mu.Unlock()

	return all
}

// Run refreshes the catalog in the background until ctx is cancelled.
func (d *Catalog) Run(ctx context.Context) {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()

	d.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refresh(ctx)
		}
	}
}
