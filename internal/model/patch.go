package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Patch maps canonical field names to their new values.
type Patch map[string]any

var mutableFields = map[Kind][]string{
	KindUser:               {"name", "role", "preferences", "is_active", "last_login_at"},
	KindProject:            {"name", "domain", "status", "settings", "scraped_files", "auto_optimize", "last_crawl_at"},
	KindHealthSnapshot:     {"crawl_data"},
	KindPage:               {"title", "status", "word_count", "load_time", "metadata", "last_crawled_at"},
	KindRecommendation:     {"issue", "recommendation", "priority", "status", "impact_score"},
	KindAlert:              {"title", "message", "priority", "status", "metadata"},
	KindOptimizationRecord: {"description", "after_score", "changes"},
}

// Mutable reports whether field may be changed through a patch on kind.
func Mutable(kind Kind, field string) bool {
	for _, f := range mutableFields[kind] {
		if f == field {
			return true
		}
	}
	return false
}

// Status returns the lifecycle status of e, if it has one.
func Status(e Entity) (string, bool) {
	switch v := e.(type) {
	case *Project:
		return string(v.Status), true
	case *Page:
		return string(v.Status), true
	case *Recommendation:
		return string(v.Status), true
	case *Alert:
		return string(v.Status), true
	}
	return "", false
}

// Guarded reports whether applying patch to kind must be conditioned on the
// stored status being unchanged since it was read.
func Guarded(kind Kind, patch Patch) bool {
	if kind != KindRecommendation && kind != KindAlert {
		return false
	}
	_, ok := patch["status"]
	return ok
}

// Apply returns a copy of current with patch applied and the list of canonical
// fields that changed, including ones stamped automatically (updated_at,
// dismissed_at). current is not modified.
func Apply(current Entity, patch Patch, now time.Time) (Entity, []string, error) {
	if len(patch) == 0 {
		return nil, nil, invalid("patch", "is empty")
	}
	kind := current.Kind()
	for field := range patch {
		if !Mutable(kind, field) {
			return nil, nil, invalid(field, fmt.Sprintf("is not mutable on %s", kind))
		}
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	changed := make([]string, 0, len(patch)+1)
	for field, value := range patch {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, nil, invalid(field, err.Error())
		}
		fields[field] = encoded
		changed = append(changed, field)
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patched %s: %w", kind, err)
	}
	next, err := kind.New()
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(merged, next); err != nil {
		return nil, nil, invalid("patch", err.Error())
	}

	ts := Timestamp(now)
	switch n := next.(type) {
	case *User:
		n.UpdatedAt = ts
		changed = append(changed, "updated_at")
	case *Project:
		n.UpdatedAt = ts
		changed = append(changed, "updated_at")
	case *Recommendation:
		from := current.(*Recommendation).Status
		if !from.CanTransition(n.Status) {
			return nil, nil, invalid("status", fmt.Sprintf("cannot move recommendation from %s to %s", from, n.Status))
		}
		n.UpdatedAt = ts
		changed = append(changed, "updated_at")
	case *Alert:
		from := current.(*Alert).Status
		if !from.CanTransition(n.Status) {
			return nil, nil, invalid("status", fmt.Sprintf("cannot move alert from %s to %s", from, n.Status))
		}
		if from == AlertActive && n.Status != AlertActive {
			n.DismissedAt = &ts
			changed = append(changed, "dismissed_at")
		}
	}
	next.Prepare(now)
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}
	sort.Strings(changed)
	return next, changed, nil
}
