package tenant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"trafi.io/internal/auth"
	"trafi.io/internal/ids"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// Record is a generic tenant-owned document of some entity kind.
type Record struct {
	ID        string         `json:"id"`
	StoreID   string         `json:"storeId"`
	Entity    string         `json:"entity"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// OwnerTenantID reports the store the record belongs to.
func (r Record) OwnerTenantID() string { return r.StoreID }

// Filter narrows a Find call. TenantID is mandatory.
type Filter struct {
	TenantID string
	ID       string
	Fields   map[string]string
	Limit    int
}

// Records is the generic keyed store the isolation layer sits on. Every
// method takes the tenant id explicitly.
type Records interface {
	Find(ctx context.Context, entity string, f Filter) ([]Record, error)
	Create(ctx context.Context, entity string, rec Record) error
	Update(ctx context.Context, entity, tenantID, id string, data map[string]any, at time.Time) (Record, error)
	Delete(ctx context.Context, entity, tenantID, id string) error
}

// Repository is a tenant-scoped view of one entity kind. The tenant always
// comes from the request context.
type Repository struct {
	records Records
	entity  string
	now     func() time.Time
}

// NewRepository binds records to entity.
func NewRepository(records Records, entity string) *Repository {
	return &Repository{records: records, entity: entity, now: time.Now}
}

// Entity returns the entity kind the repository serves.
func (r *Repository) Entity() string { return r.entity }

// Get returns one record of the current tenant.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return Record{}, err
	}
	return r.get(ctx, tenantID, id)
}

func (r *Repository) get(ctx context.Context, tenantID, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, auth.ErrNotFound
	}
	found, err := r.records.Find(ctx, r.entity, Filter{TenantID: tenantID, ID: id, Limit: 1})
	if err != nil {
		return Record{}, err
	}
	if len(found) == 0 {
		return Record{}, auth.ErrNotFound
	}
	if err := ValidateOwnership(ctx, found[0]); err != nil {
		return Record{}, err
	}
	return found[0], nil
}

// List returns records of the current tenant whose data matches fields.
func (r *Repository) List(ctx context.Context, fields map[string]string, limit int) ([]Record, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return nil, err
	}
	for k := range fields {
		if !fieldNamePattern.MatchString(k) {
			return nil, fmt.Errorf("%w: invalid filter field %q", auth.ErrInvalidInput, k)
		}
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	found, err := r.records.Find(ctx, r.entity, Filter{TenantID: tenantID, Fields: fields, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, rec := range found {
		if ValidateOwnership(ctx, rec) == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Create stores data as a new record of the current tenant.
func (r *Repository) Create(ctx context.Context, data map[string]any) (Record, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return Record{}, err
	}
	if data == nil {
		data = map[string]any{}
	}
	now := r.now().UTC()
	rec := Record{
		ID:        ids.New(),
		StoreID:   tenantID,
		Entity:    r.entity,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.records.Create(ctx, r.entity, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update replaces the data of a record of the current tenant.
func (r *Repository) Update(ctx context.Context, id string, data map[string]any) (Record, error) {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return Record{}, err
	}
	if _, err := r.get(ctx, tenantID, id); err != nil {
		return Record{}, err
	}
	if data == nil {
		data = map[string]any{}
	}
	updated, err := r.records.Update(ctx, r.entity, tenantID, id, data, r.now().UTC())
	if err != nil {
		return Record{}, err
	}
	if err := ValidateOwnership(ctx, updated); err != nil {
		return Record{}, err
	}
	return updated, nil
}

// Delete removes a record of the current tenant.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tenantID, err := ResolveTenant(ctx, "")
	if err != nil {
		return err
	}
	if _, err := r.get(ctx, tenantID, id); err != nil {
		return err
	}
	return r.records.Delete(ctx, r.entity, tenantID, id)
}
