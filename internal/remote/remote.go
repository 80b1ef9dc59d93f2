// Package remote routes entity operations to one backend client per
// entity type.
package remote

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// EntityClient talks to the backend for one entity type.
type EntityClient interface {
	Get(ctx context.Context, id string) (models.Entity, error)
	List(ctx context.Context, filter models.Filter) ([]models.Entity, error)
	Create(ctx context.Context, payload models.Entity) (models.Entity, error)
	Update(ctx context.Context, id string, payload models.Entity) (models.Entity, error)
	Delete(ctx context.Context, id string) error
}

// Clients has one field per entity type so that every type is handled.
type Clients struct {
	User          EntityClient
	Product       EntityClient
	Design        EntityClient
	Order         EntityClient
	CartItem      EntityClient
	MessageThread EntityClient
	Notification  EntityClient
}

// For returns the client registered for t.
func (c Clients) For(t models.EntityType) EntityClient {
	switch t {
	case models.EntityUser:
		return c.User
	case models.EntityProduct:
		return c.Product
	case models.EntityDesign:
		return c.Design
	case models.EntityOrder:
		return c.Order
	case models.EntityCartItem:
		return c.CartItem
	case models.EntityMessageThread:
		return c.MessageThread
	case models.EntityNotification:
		return c.Notification
	}
	return nil
}

// Table is the validated dispatch table.
type Table struct {
	clients Clients
	timeout time.Duration
}

// NewTable fails when any entity type lacks a client.
func NewTable(clients Clients) (*Table, error) {
	for _, t := range models.EntityTypes {
		if clients.For(t) == nil {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "no remote client for %s", t)
		}
	}
	return &Table{clients: clients}, nil
}

// WithTimeout returns a copy of the table that bounds every call by d.
// Zero disables the bound.
func (t *Table) WithTimeout(d time.Duration) *Table {
	cp := *t
	cp.timeout = d
	return &cp
}

// For returns the client for et.
func (t *Table) For(et models.EntityType) (EntityClient, error) {
	c := t.clients.For(et)
	if c == nil {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", et)
	}
	if t.timeout > 0 {
		return timeoutClient{next: c, timeout: t.timeout}, nil
	}
	return c, nil
}

// Dispatch replays an outbox item against the backend. Creates drop a
// temporary id from the payload so the backend assigns the real one.
func (t *Table) Dispatch(ctx context.Context, item models.OutboxItem) (models.Entity, error) {
	client, err := t.For(item.EntityType)
	if err != nil {
		return nil, err
	}
	payload, err := item.Entity()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSerialization, "decode outbox payload", err)
	}

	switch item.Operation {
	case models.OperationCreate:
		if uuid.IsTemp(payload.ID()) {
			payload = payload.Clone()
			delete(payload, models.IDField)
		}
		return client.Create(ctx, payload)
	case models.OperationUpdate:
		return client.Update(ctx, item.EntityID, payload)
	case models.OperationDelete:
		return nil, client.Delete(ctx, item.EntityID)
	}
	return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation %q", item.Operation))
}

type timeoutClient struct {
	next    EntityClient
	timeout time.Duration
}

func (c timeoutClient) Get(ctx context.Context, id string) (models.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Get(ctx, id)
}

func (c timeoutClient) List(ctx context.Context, filter models.Filter) ([]models.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.List(ctx, filter)
}

func (c timeoutClient) Create(ctx context.Context, payload models.Entity) (models.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Create(ctx, payload)
}

func (c timeoutClient) Update(ctx context.Context, id string, payload models.Entity) (models.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Update(ctx, id, payload)
}

func (c timeoutClient) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Delete(ctx, id)
}
