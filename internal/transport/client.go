// Package transport implements the HTTP side of the sync contract: one
// POST per mutation, plus the preload GETs for cached snapshots.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guidesync/internal/config"
	"guidesync/internal/guide"
)

const defaultTimeout = 30 * time.Second

// Client talks to the platform's guide API. Each call carries the device
// token and a bounded timeout so a hung request cannot stall the queue.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

// NewClient creates a Client from server config.
func NewClient(cfg config.ServerConfig, deviceID string) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token:    cfg.Token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

// Submit delivers one mutation payload to the given endpoint path. Any
// 2xx response is success and the body is discarded; anything else —
// including a transport error — leaves the mutation pending at the
// caller.
func (c *Client) Submit(ctx context.Context, path string, payload json.RawMessage, idempotencyKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// tripDTO is the subset of the trip representation the store indexes on;
// the full body is kept verbatim as the snapshot payload.
type tripDTO struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	DepartsAt time.Time `json:"departs_at"`
}

type participantDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchTrips returns the guide's trips in the [from, to] date range.
func (c *Client) FetchTrips(ctx context.Context, from, to string) ([]*guide.Trip, error) {
	query := url.Values{"from": {from}, "to": {to}}
	var raw []json.RawMessage
	if err := c.getJSON(ctx, "/guide/trips?"+query.Encode(), &raw); err != nil {
		return nil, err
	}

	trips := make([]*guide.Trip, 0, len(raw))
	for _, body := range raw {
		var dto tripDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return nil, fmt.Errorf("decoding trip: %w", err)
		}
		trips = append(trips, &guide.Trip{
			ID:        dto.ID,
			Date:      dto.Date,
			Title:     dto.Title,
			DepartsAt: dto.DepartsAt,
			Payload:   body,
		})
	}
	return trips, nil
}

// FetchManifest returns the participant manifest for a trip.
func (c *Client) FetchManifest(ctx context.Context, tripID string) ([]*guide.Participant, error) {
	var raw []json.RawMessage
	path := "/guide/trips/" + url.PathEscape(tripID) + "/manifest"
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	participants := make([]*guide.Participant, 0, len(raw))
	for _, body := range raw {
		var dto participantDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return nil, fmt.Errorf("decoding participant: %w", err)
		}
		participants = append(participants, &guide.Participant{
			ID:      dto.ID,
			TripID:  tripID,
			Name:    dto.Name,
			Payload: body,
		})
	}
	return participants, nil
}

// getJSON issues a GET and decodes a JSON response body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Device-ID", c.deviceID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("server returned %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// Compile-time checks against the core interfaces
var (
	_ guide.Submitter = (*Client)(nil)
	_ guide.Fetcher   = (*Client)(nil)
)
