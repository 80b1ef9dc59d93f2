package facade

import (
	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
)

// Set holds one Facade per entity type.
type Set struct {
	Users          *Facade
	Products       *Facade
	Designs        *Facade
	Orders         *Facade
	CartItems      *Facade
	MessageThreads *Facade
	Notifications  *Facade
}

// NewSet builds every facade over the same dependencies.
func NewSet(cfg config.SyncConfig, deps Deps) (*Set, error) {
	built := make(map[models.EntityType]*Facade, len(models.EntityTypes))
	for _, t := range models.EntityTypes {
		f, err := New(t, cfg, deps)
		if err != nil {
			return nil, err
		}
		built[t] = f
	}
	return &Set{
		Users:          built[models.EntityUser],
		Products:       built[models.EntityProduct],
		Designs:        built[models.EntityDesign],
		Orders:         built[models.EntityOrder],
		CartItems:      built[models.EntityCartItem],
		MessageThreads: built[models.EntityMessageThread],
		Notifications:  built[models.EntityNotification],
	}, nil
}

// For returns the facade for t, or nil for an unknown type.
func (s *Set) For(t models.EntityType) *Facade {
	switch t {
	case models.EntityUser:
		return s.Users
	case models.EntityProduct:
		return s.Products
	case models.EntityDesign:
		return s.Designs
	case models.EntityOrder:
		return s.Orders
	case models.EntityCartItem:
		return s.CartItems
	case models.EntityMessageThread:
		return s.MessageThreads
	case models.EntityNotification:
		return s.Notifications
	}
	return nil
}
