package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Records wraps a RecordStore so every call runs inside a span.
type Records struct {
	next    store.RecordStore
	backend string
}

var _ store.RecordStore = (*Records)(nil)

// TraceRecords wraps next. backend is recorded on every span.
func TraceRecords(next store.RecordStore, backend string) *Records {
	return &Records{next: next, backend: backend}
}

// Unwrap returns the wrapped store.
func (r *Records) Unwrap() store.RecordStore { return r.next }

func (r *Records) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("record.backend", r.backend))
	ctx, span := Start(ctx, "record."+op, attrs...)
	return ctx, func(err error) { End(span, err) }
}

func kindAttr(kind model.Kind) attribute.KeyValue {
	return attribute.String("record.kind", string(kind))
}

// Create implements store.RecordStore.
func (r *Records) Create(ctx context.Context, e model.Entity) (string, error) {
	var kind model.Kind
	if e != nil {
		kind = e.Kind()
	}
	ctx, end := r.start(ctx, "create", kindAttr(kind))
	id, err := r.next.Create(ctx, e)
	end(err)
	return id, err
}

// Get implements store.RecordStore.
func (r *Records) Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error) {
	ctx, end := r.start(ctx, "get", kindAttr(kind), attribute.String("record.id", id))
	e, err := r.next.Get(ctx, kind, id)
	end(err)
	return e, err
}

// GetByUnique implements store.RecordStore.
func (r *Records) GetByUnique(ctx context.Context, kind model.Kind, field, value string) (model.Entity, error) {
	ctx, end := r.start(ctx, "get_by_unique", kindAttr(kind), attribute.String("record.field", field))
	e, err := r.next.GetByUnique(ctx, kind, field, value)
	end(err)
	return e, err
}

// ListChildren implements store.RecordStore.
func (r *Records) ListChildren(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind, f store.Filter) ([]model.Entity, error) {
	ctx, end := r.start(ctx, "list_children",
		kindAttr(childKind),
		attribute.String("record.parent_kind", string(parentKind)),
	)
	out, err := r.next.ListChildren(ctx, parentKind, parentID, childKind, f)
	end(err)
	return out, err
}

// UpdateFields implements store.RecordStore.
func (r *Records) UpdateFields(ctx context.Context, kind model.Kind, id string, patch model.Patch) (model.Entity, error) {
	ctx, end := r.start(ctx, "update_fields", kindAttr(kind), attribute.String("record.id", id))
	e, err := r.next.UpdateFields(ctx, kind, id, patch)
	end(err)
	return e, err
}

// LatestChild implements store.RecordStore.
func (r *Records) LatestChild(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind) (model.Entity, error) {
	ctx, end := r.start(ctx, "latest_child",
		kindAttr(childKind),
		attribute.String("record.parent_kind", string(parentKind)),
	)
	e, err := r.next.LatestChild(ctx, parentKind, parentID, childKind)
	end(err)
	return e, err
}

// ListByCategory implements store.RecordStore.
func (r *Records) ListByCategory(ctx context.Context, category string, f store.Filter) ([]*model.Recommendation, error) {
	ctx, end := r.start(ctx, "list_by_category", attribute.String("record.category", category))
	out, err := r.next.ListByCategory(ctx, category, f)
	end(err)
	return out, err
}

// Ping implements store.RecordStore.
func (r *Records) Ping(ctx context.Context) error {
	ctx, end := r.start(ctx, "ping")
	err := r.next.Ping(ctx)
	end(err)
	return err
}

// Close implements store.RecordStore.
func (r *Records) Close() { r.next.Close() }
