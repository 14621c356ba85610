// Package remote is the HTTP client for the remote notes API. It speaks the
// entity sync protocol: idempotent upserts keyed by client-generated ids,
// optimistic concurrency via expected_sync_version, and incremental fetch by
// server change timestamp.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

// UpsertResult is the server's answer to a successful PUT: the authoritative
// sync version and the full entity state after applying the mutation.
type UpsertResult struct {
	SyncVersion int64           `json:"sync_version"`
	State       json.RawMessage `json:"state"`
}

// RemoteEntity is one entity row from an incremental fetch.
type RemoteEntity struct {
	ID          string          `json:"id"`
	SyncVersion int64           `json:"sync_version"`
	UpdatedAt   int64           `json:"updated_at"`
	Deleted     bool            `json:"deleted"`
	State       json.RawMessage `json:"state"`
}

// VersionConflict is the detail behind a 409: the server's current version
// and state, which the reconciler needs to attempt a field-level merge.
type VersionConflict struct {
	CurrentSyncVersion int64           `json:"current_sync_version"`
	CurrentState       json.RawMessage `json:"current_state"`
}

// Error implements the error interface.
func (v *VersionConflict) Error() string {
	return fmt.Sprintf("version conflict: server at sync_version %d", v.CurrentSyncVersion)
}

// errorBody is the server's error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to one remote endpoint. Token is resolved per request so a
// re-authentication takes effect without rebuilding the client.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   func(ctx context.Context) (string, error)
}

// NewClient creates a Client with a request timeout. The timeout is the
// drain timeout: an attempt that exceeds it counts as a network failure and
// is retried with backoff.
func NewClient(baseURL string, timeout time.Duration, token func(ctx context.Context) (string, error)) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Token:   token,
	}
}

// PutEntity creates or updates an entity. The call is idempotent: replaying
// the same mutation after an ambiguous failure converges on the same state.
// expectedVersion 0 means the entity is new to the server.
func (c *Client) PutEntity(ctx context.Context, entityType models.EntityType, entityID string, data json.RawMessage, expectedVersion int64) (*UpsertResult, error) {
	// Inject the concurrency token next to the entity fields
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build upsert body", err)
	}
	body["expected_sync_version"] = expectedVersion
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build upsert body", err)
	}

	resp, err := c.do(ctx, http.MethodPut, c.entityURL(entityType, entityID), encoded)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var result UpsertResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to decode upsert result", err)
		}
		return &result, nil
	}
	return nil, c.statusError(resp)
}

// DeleteEntity deletes an entity. A 404 is success: the delete already took
// effect, possibly via an earlier replay.
func (c *Client) DeleteEntity(ctx context.Context, entityType models.EntityType, entityID string, expectedVersion int64) error {
	u := c.entityURL(entityType, entityID) + "?expected_sync_version=" + strconv.FormatInt(expectedVersion, 10)
	resp, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return c.statusError(resp)
}

// FetchEntity retrieves the server's current state of one entity.
func (c *Client) FetchEntity(ctx context.Context, entityType models.EntityType, entityID string) (*RemoteEntity, error) {
	resp, err := c.do(ctx, http.MethodGet, c.entityURL(entityType, entityID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.New(apperrors.ErrNotFound, "entity not found on server")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}
	var entity RemoteEntity
	if err := json.NewDecoder(resp.Body).Decode(&entity); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to decode entity", err)
	}
	return &entity, nil
}

// FetchSince returns entities changed after the given server timestamp and
// the new pull position. since 0 fetches everything.
func (c *Client) FetchSince(ctx context.Context, entityType models.EntityType, since int64) ([]*RemoteEntity, int64, error) {
	u := fmt.Sprintf("%s/entities/%s?since=%d", c.BaseURL, url.PathEscape(string(entityType)), since)
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, c.statusError(resp)
	}
	var page struct {
		Entities []*RemoteEntity `json:"entities"`
		ServerTS int64           `json:"server_ts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrNetwork, "failed to decode entity page", err)
	}
	return page.Entities, page.ServerTS, nil
}

func (c *Client) entityURL(entityType models.EntityType, entityID string) string {
	return fmt.Sprintf("%s/entities/%s/%s", c.BaseURL,
		url.PathEscape(string(entityType)), url.PathEscape(entityID))
}

// do builds, authenticates and executes a request, classifying transport
// failures into the error taxonomy.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrAuth, "failed to resolve token", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrSyncTimeout, "request timed out", err)
		}
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return nil, apperrors.Wrap(apperrors.ErrSyncTimeout, "request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "request failed", err)
	}
	return resp, nil
}

// statusError maps a non-success response to the error taxonomy. The body is
// read fully here; callers must not touch it afterwards.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusConflict:
		var vc VersionConflict
		if err := json.Unmarshal(raw, &vc); err != nil {
			return apperrors.Wrap(apperrors.ErrConflict, "version conflict with unreadable body", err)
		}
		return apperrors.Wrap(apperrors.ErrConflict, "version conflict", &vc)

	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.New(apperrors.ErrAuth, "authentication rejected")

	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Code == string(apperrors.ErrTagLimitExceeded) {
			return apperrors.New(apperrors.ErrTagLimitExceeded, eb.Message)
		}
		msg := "request rejected"
		if eb.Message != "" {
			msg = eb.Message
		}
		return apperrors.New(apperrors.ErrValidation, msg)

	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return apperrors.New(apperrors.ErrNetwork, fmt.Sprintf("server unavailable: %d", resp.StatusCode))
	}
	return apperrors.New(apperrors.ErrNetwork, fmt.Sprintf("unexpected status %d", resp.StatusCode))
}
