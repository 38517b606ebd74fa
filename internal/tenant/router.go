package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrMissingTenant = errors.New("tenant missing from request context")
	ErrUnknownTenant = errors.New("unknown tenant")
)

type ctxKey struct{}

// WithTenant stores the tenant key on ctx.
func WithTenant(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

// FromContext returns the tenant key stored by WithTenant.
func FromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ctxKey{}).(string)
	return key, ok && key != ""
}

// Router maps tenant keys to their already-provisioned databases.
type Router struct {
	dbs map[string]*sql.DB
}

func NewRouter(dbs map[string]*sql.DB) *Router {
	return &Router{dbs: dbs}
}

// DB returns the database of the tenant carried by ctx.
func (r *Router) DB(ctx context.Context) (*sql.DB, error) {
	key, ok := FromContext(ctx)
	if !ok {
		return nil, ErrMissingTenant
	}
	return r.Lookup(key)
}

func (r *Router) Lookup(key string) (*sql.DB, error) {
	db, ok := r.dbs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, key)
	}
	return db, nil
}

// Has reports whether key names a configured tenant.
func (r *Router) Has(key string) bool {
	_, ok := r.dbs[key]
	return ok
}

// Tenants lists the configured tenant keys in sorted order.
func (r *Router) Tenants() []string {
	keys := make([]string, 0, len(r.dbs))
	for key := range r.dbs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every tenant database and returns the first error.
func (r *Router) Close() error {
	var first error
	for _, key := range r.Tenants() {
		if err := r.dbs[key].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
