// Package ledger is a thread-safe, type-aware in-memory store of per-node
// run records. The engine writes every transition here; callers read it
// back or export it for external persistence.
package ledger

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/morrisxyang/xreflect"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// entry holds the serialized value plus its concrete Go type
type entry struct {
	typ       reflect.Type
	blob      []byte
	updatedAt time.Time
}

// Common errors returned by the ledger
var (
	ErrNotFound     = flowerrors.New(flowerrors.ErrNotFound, "key not found")
	ErrTypeMismatch = flowerrors.New(flowerrors.ErrValidation, "type mismatch on get")
)

// Ledger is a threadsafe, type-aware in-memory store
type Ledger struct {
	mu    sync.RWMutex
	data  map[string]entry
	order []string
}

// New constructs an empty ledger
func New() *Ledger {
	return &Ledger{data: make(map[string]entry)}
}

// Put stores any Go value under key, capturing its concrete type
func (l *Ledger) Put(key string, value any) error {
	if key == "" {
		return flowerrors.Validationf("ledger put", "key cannot be empty")
	}

	blob, err := json.Marshal(value)
	if err != nil {
		return flowerrors.Wrap(err, flowerrors.ErrValidation, "ledger put "+key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.data[key]; !exists {
		l.order = append(l.order, key)
	}
	l.data[key] = entry{typ: reflect.TypeOf(value), blob: blob, updatedAt: time.Now()}
	return nil
}

// Get retrieves and unmarshals key into a value of type T
func Get[T any](l *Ledger, key string) (T, error) {
	var zero T

	l.mu.RLock()
	e, ok := l.data[key]
	l.mu.RUnlock()

	if !ok {
		return zero, flowerrors.WithOp(ErrNotFound, "ledger get "+key)
	}

	want := reflect.TypeOf((*T)(nil)).Elem()
	if e.typ != want {
		return zero, &flowerrors.Error{
			Code:    flowerrors.ErrValidation,
			Op:      "ledger get " + key,
			Message: fmt.Sprintf("wanted %v, got %v", want, e.typ),
			Cause:   ErrTypeMismatch,
		}
	}

	var v T
	if err := json.Unmarshal(e.blob, &v); err != nil {
		return zero, flowerrors.Wrap(err, flowerrors.ErrIO, "ledger get "+key)
	}
	return v, nil
}

// Keys returns stored keys in insertion order
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// KeysByType returns all keys whose stored value has type T
func KeysByType[T any](l *Ledger) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	want := reflect.TypeOf((*T)(nil)).Elem()
	var keys []string
	for _, k := range l.order {
		if l.data[k].typ == want {
			keys = append(keys, k)
		}
	}
	return keys
}

// UpdateField updates a single field in a stored object using dot notation
func (l *Ledger) UpdateField(key string, fieldPath string, fieldValue any) error {
	return l.UpdateFields(key, map[string]any{fieldPath: fieldValue})
}

// UpdateFields updates multiple fields in a stored object. Fields are
// applied in sorted path order.
func (l *Ledger) UpdateFields(key string, fields map[string]any) error {
	op := "ledger update " + key
	if len(fields) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.data[key]
	if !ok {
		return flowerrors.WithOp(ErrNotFound, op)
	}

	instance := reflect.New(e.typ).Interface()
	if err := json.Unmarshal(e.blob, instance); err != nil {
		return flowerrors.Wrap(err, flowerrors.ErrIO, op)
	}

	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := xreflect.SetEmbedField(instance, p, fields[p]); err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrValidation, fmt.Sprintf("%s: failed to update field %s", op, p))
		}
	}

	blob, err := json.Marshal(instance)
	if err != nil {
		return flowerrors.Wrap(err, flowerrors.ErrIO, op)
	}
	l.data[key] = entry{typ: e.typ, blob: blob, updatedAt: time.Now()}
	return nil
}

// TypeToSchema converts a reflect.Type to a JSON schema
func TypeToSchema(t reflect.Type) *jsonschema.Schema {
	instance := reflect.New(t).Interface()
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	return reflector.Reflect(instance)
}
