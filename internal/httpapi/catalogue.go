package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const catalogueFetchTimeout = 2 * time.Second
const catalogueRefreshInterval = 10 * time.Minute
const modelsCatalogueURL = "https://api.anthropic.com/v1/models"

// staticModelFallback is merged into whatever the upstream catalogue
// returns, so /v1/models always lists this fixed set of Claude model ids
// even when the upstream list omits or renames one of them. It does not
// list the client-facing aliases of variant's alias table (such as
// "claude-4-sonnet").
// The created timestamps are fixed release-order stand-ins, used only to
// seed the descending sort when an entry has no upstream-reported value.
var staticModelFallback = []map[string]any{
	{"id": "claude-sonnet-4-5", "object": "model", "created": int64(1738000000), "owned_by": "anthropic"},
	{"id": "claude-opus-4-5", "object": "model", "created": int64(1738000001), "owned_by": "anthropic"},
	{"id": "claude-haiku-4-5", "object": "model", "created": int64(1738000002), "owned_by": "anthropic"},
	{"id": "claude-3-5-sonnet", "object": "model", "created": int64(1729555200), "owned_by": "anthropic"},
	{"id": "claude-3-5-haiku", "object": "model", "created": int64(1729555200), "owned_by": "anthropic"},
}

// catalogueCache serves an OpenAI-shaped model list, refreshed on demand
// from the upstream catalogue (inside Get, when the cached copy is stale)
// and falling back to a static list whenever a fetch is slow, absent, or
// fails.
type catalogueCache struct {
	mu      sync.RWMutex
	models  []map[string]any
	fetched time.Time
	client  *http.Client
}

func newCatalogueCache() *catalogueCache {
	return &catalogueCache{
		models: staticModelFallback,
		client: &http.Client{Timeout: catalogueFetchTimeout},
	}
}

// Get returns the current model list in OpenAI's /v1/models shape,
// refreshing it synchronously (bounded by catalogueFetchTimeout) if the
// cached copy is stale. The result is the union of the last successful
// upstream fetch and staticModelFallback, sorted by created descending, so
// the fixed fallback ids always show up even if upstream drops them.
func (c *catalogueCache) Get(ctx context.Context) map[string]any {
	c.mu.RLock()
	stale := time.Since(c.fetched) > catalogueRefreshInterval
	models := c.models
	c.mu.RUnlock()

	if stale {
		if fetched, ok := c.fetch(ctx); ok {
			models = fetched
			c.mu.Lock()
			c.models = fetched
			c.fetched = time.Now()
			c.mu.Unlock()
		}
	}

	return map[string]any{"object": "list", "data": mergeModels(models, staticModelFallback)}
}

// mergeModels unions two model lists by id, preferring the upstream entry
// on conflict, and sorts the result by created descending.
func mergeModels(upstream, fallback []map[string]any) []map[string]any {
	byID := make(map[string]map[string]any, len(upstream)+len(fallback))
	var order []string

	add := func(m map[string]any) {
		id, _ := m["id"].(string)
		if id == "" {
			return
		}
		if _, exists := byID[id]; !exists {
			order = append(order, id)
		}
		byID[id] = m
	}
	for _, m := range fallback {
		add(m)
	}
	for _, m := range upstream {
		add(m)
	}

	merged := make([]map[string]any, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return createdOf(merged[i]) > createdOf(merged[j])
	})
	return merged
}

func createdOf(m map[string]any) int64 {
	switch v := m["created"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (c *catalogueCache) fetch(ctx context.Context) ([]map[string]any, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, catalogueFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, modelsCatalogueURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Data) == 0 {
		return nil, false
	}

	out := make([]map[string]any, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		created := createdOf(m)
		if created == 0 {
			if t, ok := m["created_at"].(string); ok {
				if parsedTime, err := time.Parse(time.RFC3339, t); err == nil {
					created = parsedTime.Unix()
				}
			}
		}
		out = append(out, map[string]any{"id": id, "object": "model", "created": created, "owned_by": "anthropic"})
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
