package remote

import (
	"context"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
)

// Func adapts plain functions to EntityClient. Nil fields report the
// operation as unsupported.
type Func struct {
	GetFunc    func(ctx context.Context, id string) (models.Entity, error)
	ListFunc   func(ctx context.Context, filter models.Filter) ([]models.Entity, error)
	CreateFunc func(ctx context.Context, payload models.Entity) (models.Entity, error)
	UpdateFunc func(ctx context.Context, id string, payload models.Entity) (models.Entity, error)
	DeleteFunc func(ctx context.Context, id string) error
}

func unsupported(op string) error {
	return apperrors.Newf(apperrors.ErrRemoteRejected, "%s not supported", op)
}

func (f Func) Get(ctx context.Context, id string) (models.Entity, error) {
	if f.GetFunc == nil {
		return nil, unsupported("get")
	}
	return f.GetFunc(ctx, id)
}

func (f Func) List(ctx context.Context, filter models.Filter) ([]models.Entity, error) {
	if f.ListFunc == nil {
		return nil, unsupported("list")
	}
	return f.ListFunc(ctx, filter)
}

func (f Func) Create(ctx context.Context, payload models.Entity) (models.Entity, error) {
	if f.CreateFunc == nil {
		return nil, unsupported("create")
	}
	return f.CreateFunc(ctx, payload)
}

func (f Func) Update(ctx context.Context, id string, payload models.Entity) (models.Entity, error) {
	if f.UpdateFunc == nil {
		return nil, unsupported("update")
	}
	return f.UpdateFunc(ctx, id, payload)
}

func (f Func) Delete(ctx context.Context, id string) error {
	if f.DeleteFunc == nil {
		return unsupported("delete")
	}
	return f.DeleteFunc(ctx, id)
}
