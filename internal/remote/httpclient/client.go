// Package httpclient implements remote.EntityClient over the REST API
// served by internal/backend.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
)

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client is the REST client for one entity type.
type Client struct {
	baseURL    string
	entityType models.EntityType
	http       *http.Client
	tokens     TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sends "Authorization: Bearer <token>" on every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a client for entityType rooted at baseURL.
func New(baseURL string, entityType models.EntityType, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		entityType: entityType,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clients builds one Client per entity type sharing the same options.
func Clients(baseURL string, opts ...Option) remote.Clients {
	mk := func(t models.EntityType) remote.EntityClient { return New(baseURL, t, opts...) }
	return remote.Clients{
		User:          mk(models.EntityUser),
		Product:       mk(models.EntityProduct),
		Design:        mk(models.EntityDesign),
		Order:         mk(models.EntityOrder),
		CartItem:      mk(models.EntityCartItem),
		MessageThread: mk(models.EntityMessageThread),
		Notification:  mk(models.EntityNotification),
	}
}

func (c *Client) collectionURL() string {
	return c.baseURL + "/api/" + c.entityType.Collection()
}

func (c *Client) entityURL(id string) string {
	return c.collectionURL() + "/" + url.PathEscape(id)
}

func (c *Client) Get(ctx context.Context, id string) (models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodGet, c.entityURL(id), nil, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) List(ctx context.Context, filter models.Filter) ([]models.Entity, error) {
	q := url.Values{}
	if filter.Field != "" {
		q.Set("field", filter.Field)
		q.Set("value", filter.Value)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	u := c.collectionURL()
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var list []models.Entity
	if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Create(ctx context.Context, payload models.Entity) (models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodPost, c.collectionURL(), payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) Update(ctx context.Context, id string, payload models.Entity) (models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodPut, c.entityURL(id), payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.entityURL(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrSerialization, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrUnauthorized, "obtain token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, fmt.Sprintf("%s %s", method, u), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "decode response", err)
	}
	return nil
}

// statusError maps a non-2xx reply: 5xx, 408, 425 and 429 are transient,
// 404 is NotFound, any other status is a rejection.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	msg = fmt.Sprintf("%s %s: %d %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, msg)

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrRemoteUnavailable, msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.ErrNotFound, msg)
	}
	return apperrors.New(apperrors.ErrRemoteRejected, msg)
}
