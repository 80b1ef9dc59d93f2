// Package models provides the data model shared by the cache, the outbox
// and the remote dispatch table.
package models

import (
	"encoding/json"
	"fmt"
)

// EntityType is the closed set of entity kinds the sync core manages.
type EntityType string

const (
	EntityUser          EntityType = "user"
	EntityProduct       EntityType = "product"
	EntityDesign        EntityType = "design"
	EntityOrder         EntityType = "order"
	EntityCartItem      EntityType = "cart_item"
	EntityMessageThread EntityType = "message_thread"
	EntityNotification  EntityType = "notification"
)

// EntityTypes lists every EntityType in declaration order.
var EntityTypes = []EntityType{
	EntityUser,
	EntityProduct,
	EntityDesign,
	EntityOrder,
	EntityCartItem,
	EntityMessageThread,
	EntityNotification,
}

// ParseEntityType converts a string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Valid reports whether t is one of the declared entity types.
func (t EntityType) Valid() bool {
	_, err := ParseEntityType(string(t))
	return err == nil
}

// Namespace returns the cache namespace for t.
func (t EntityType) Namespace() string {
	return string(t)
}

// Collection returns the REST collection segment for t.
func (t EntityType) Collection() string {
	return string(t) + "s"
}

// Operation is the kind of mutation carried by an outbox item.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Entity is a JSON object as exchanged with the backend.
type Entity map[string]any

// IDField is the key every entity stores its identifier under.
const IDField = "id"

// ID returns the entity's id, or "" when absent or not a string.
func (e Entity) ID() string {
	id, _ := e[IDField].(string)
	return id
}

// Clone returns a shallow copy of e.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Merge returns a copy of e with patch applied on top.
func (e Entity) Merge(patch Entity) Entity {
	out := e.Clone()
	if out == nil {
		out = make(Entity, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// DecodeEntity unmarshals raw JSON into an Entity.
func DecodeEntity(raw json.RawMessage) (Entity, error) {
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeEntities unmarshals a JSON array of entities.
func DecodeEntities(raw json.RawMessage) ([]Entity, error) {
	var list []Entity
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Filter narrows a list read. Empty fields are ignored.
type Filter struct {
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Matches reports whether e passes the field/value condition.
func (f Filter) Matches(e Entity) bool {
	if f.Field == "" {
		return true
	}
	return fmt.Sprint(e[f.Field]) == f.Value
}
