package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/site-tracker/internal/model"
)

// RecordStore persists canonical entities. Exactly one implementation is
// selected at startup; callers never see its physical schema.
type RecordStore interface {
	// Create stores e, assigning an id when e has none, and returns the id.
	// Duplicate ids or unique fields yield ErrConflict; missing parents ErrValidation.
	Create(ctx context.Context, e model.Entity) (string, error)
	// Get loads one entity or returns ErrNotFound.
	Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error)
	// GetByUnique loads an entity by a unique field. Only (user, email) is supported.
	GetByUnique(ctx context.Context, kind model.Kind, field, value string) (model.Entity, error)
	// ListChildren returns the children of one parent, most recent first.
	ListChildren(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind, f Filter) ([]model.Entity, error)
	// UpdateFields applies patch and returns the updated entity.
	UpdateFields(ctx context.Context, kind model.Kind, id string, patch model.Patch) (model.Entity, error)
	// LatestChild returns the most recent child or ErrNotFound when there is none.
	LatestChild(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind) (model.Entity, error)
	// ListByCategory returns recommendations in one category across all projects.
	ListByCategory(ctx context.Context, category string, f Filter) ([]*model.Recommendation, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases client resources.
	Close()
}

// IDGenerator assigns ids to new entities.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps for created/updated fields.
type Clock interface {
	Now() time.Time
}

// Filter narrows a listing. Zero values mean "no constraint".
type Filter struct {
	Status   string
	Category string
	Priority string
	Limit    int
}

// Check validates that every set field applies to kind.
func (f Filter) Check(kind model.Kind) error {
	if f.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	if f.Status != "" {
		switch kind {
		case model.KindProject, model.KindPage, model.KindRecommendation, model.KindAlert:
		default:
			return fmt.Errorf("%s has no status", kind)
		}
	}
	if f.Category != "" && kind != model.KindRecommendation {
		return fmt.Errorf("%s has no category", kind)
	}
	if f.Priority != "" && kind != model.KindRecommendation && kind != model.KindAlert {
		return fmt.Errorf("%s has no priority", kind)
	}
	return nil
}

// Matches reports whether e satisfies the status, category and priority constraints.
func (f Filter) Matches(e model.Entity) bool {
	if f.Status != "" {
		status, ok := model.Status(e)
		if !ok || status != f.Status {
			return false
		}
	}
	switch v := e.(type) {
	case *model.Recommendation:
		if f.Category != "" && v.Category != f.Category {
			return false
		}
		if f.Priority != "" && string(v.Priority) != f.Priority {
			return false
		}
	case *model.Alert:
		if f.Priority != "" && string(v.Priority) != f.Priority {
			return false
		}
	}
	return true
}

// CheckChildren validates a (parent, child) listing request.
func CheckChildren(op, backend string, parentKind model.Kind, parentID string, childKind model.Kind, f Filter) error {
	if !model.ChildOf(parentKind, childKind) {
		return Errorf(KindValidation, op, backend, "%s is not a child of %s", childKind, parentKind)
	}
	if parentID == "" {
		return Errorf(KindValidation, op, backend, "parent id is required")
	}
	if err := f.Check(childKind); err != nil {
		return Invalid(op, backend, err)
	}
	return nil
}

// CheckUnique validates a unique lookup and returns the normalized value.
func CheckUnique(op, backend string, kind model.Kind, field, value string) (string, error) {
	if kind != model.KindUser || field != "email" {
		return "", Errorf(KindValidation, op, backend, "%s.%s is not a unique lookup", kind, field)
	}
	email := model.NormalizeEmail(value)
	if email == "" {
		return "", Errorf(KindValidation, op, backend, "email is required")
	}
	return email, nil
}

// As converts an entity to its concrete type.
func As[T model.Entity](e model.Entity, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected entity %T", e)
	}
	return v, nil
}

// GetAs loads an entity of a known concrete type.
func GetAs[T model.Entity](ctx context.Context, s RecordStore, kind model.Kind, id string) (T, error) {
	return As[T](s.Get(ctx, kind, id))
}

// ListAs lists children of a known concrete type.
func ListAs[T model.Entity](
	ctx context.Context,
	s RecordStore,
	parentKind model.Kind,
	parentID string,
	childKind model.Kind,
	f Filter,
) ([]T, error) {
	items, err := s.ListChildren(ctx, parentKind, parentID, childKind, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, e := range items {
		v, err := As[T](e, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EnsureUser creates u or, when a user with the same email exists, returns
// the stored one.
func EnsureUser(ctx context.Context, s RecordStore, u *model.User) (*model.User, error) {
	if _, err := s.Create(ctx, u); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrConflict) {
		return nil, err
	}
	return As[*model.User](s.GetByUnique(ctx, model.KindUser, "email", u.Email))
}

// PrepareCreate assigns an id when e has none, fills defaults and validates.
func PrepareCreate(op, backend string, e model.Entity, ids IDGenerator, clock Clock) (string, error) {
	if e == nil {
		return "", Errorf(KindValidation, op, backend, "entity is required")
	}
	if e.GetID() == "" {
		id, err := ids.NewID()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		e.SetID(id)
	}
	e.Prepare(clock.Now())
	if err := e.Validate(); err != nil {
		return "", Invalid(op, backend, err)
	}
	return e.GetID(), nil
}
