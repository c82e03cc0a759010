// Package hass is a minimal Home Assistant REST client covering the two
// calls the gateway issues: listing entity states and invoking a
// service. Retry policy belongs to the caller; this client makes exactly
// one attempt per call with a hard timeout.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hearthware/go-hearth/internal/httpc"
)

// Sentinel errors for the hass package.
var (
	// ErrUnauthorized indicates the bearer token was rejected.
	ErrUnauthorized = errors.New("hass: unauthorized")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("hass: request timed out")

	// ErrNotConfigured indicates base URL or token is missing.
	ErrNotConfigured = errors.New("hass: base URL or token not configured")
)

// Entity is one Home Assistant entity state snapshot. Never mutated
// after fetch; each curation pass fetches a fresh list.
type Entity struct {
	ID     string
	Domain string
	Name   string
	State  string
}

// Client issues REST calls against a Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Home Assistant client. A nil httpClient uses the
// shared client from internal/httpc.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpc.Client
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    httpClient,
	}
}

// IsConfigured reports whether both base URL and token are set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.token != ""
}

// stateRow is the wire shape of one element of GET /api/states.
type stateRow struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// States fetches the full entity inventory via GET /api/states.
func (c *Client) States(ctx context.Context) ([]Entity, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("hass: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport("states", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hass: /api/states failed: %d %s", resp.StatusCode, body)
	}

	var rows []stateRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("hass: decode states: %w", err)
	}

	entities := make([]Entity, 0, len(rows))
	for _, row := range rows {
		id := strings.TrimSpace(row.EntityID)
		if id == "" {
			continue
		}
		name := id
		if fn, ok := row.Attributes["friendly_name"].(string); ok && fn != "" {
			name = fn
		}
		state := row.State
		if state == "" {
			state = "unknown"
		}
		entities = append(entities, Entity{
			ID:     id,
			Domain: entityDomain(id),
			Name:   name,
			State:  state,
		})
	}
	return entities, nil
}

// CallService invokes POST /api/services/{domain}/{service}. The data
// map names the target entity and any extra service fields.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	domain = strings.TrimSpace(domain)
	service = strings.TrimSpace(service)
	if domain == "" || service == "" {
		return errors.New("hass: domain/service missing")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("hass: encode service data: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/services/%s/%s",
		c.baseURL, url.PathEscape(domain), url.PathEscape(service))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hass: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport(domain+"/"+service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hass: %s/%s failed: %d %s", domain, service, resp.StatusCode, body)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}

func wrapTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return fmt.Errorf("hass: %s: %w", op, err)
}

func entityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}
