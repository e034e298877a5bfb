// Package model defines the canonical entities shared by every storage backend.
package model

import "fmt"

// Kind names a canonical entity type.
type Kind string

// Canonical entity kinds.
const (
	KindUser               Kind = "user"
	KindProject            Kind = "project"
	KindHealthSnapshot     Kind = "health_snapshot"
	KindPage               Kind = "page"
	KindRecommendation     Kind = "recommendation"
	KindAlert              Kind = "alert"
	KindOptimizationRecord Kind = "optimization_record"
)

// Kinds lists every kind in dependency order: owners before the entities they own.
var Kinds = []Kind{
	KindUser,
	KindProject,
	KindPage,
	KindHealthSnapshot,
	KindRecommendation,
	KindAlert,
	KindOptimizationRecord,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindProject, KindHealthSnapshot, KindPage,
		KindRecommendation, KindAlert, KindOptimizationRecord:
		return true
	}
	return false
}

// New returns an empty entity of kind k.
func (k Kind) New() (Entity, error) {
	switch k {
	case KindUser:
		return &User{}, nil
	case KindProject:
		return &Project{}, nil
	case KindHealthSnapshot:
		return &HealthSnapshot{}, nil
	case KindPage:
		return &Page{}, nil
	case KindRecommendation:
		return &Recommendation{}, nil
	case KindAlert:
		return &Alert{}, nil
	case KindOptimizationRecord:
		return &OptimizationRecord{}, nil
	}
	return nil, invalid("kind", fmt.Sprintf("unknown kind %q", k))
}

// TimeSeries reports whether entities of kind k are ordered by timestamp
// rather than by id.
func (k Kind) TimeSeries() bool {
	return k == KindHealthSnapshot || k == KindOptimizationRecord
}

// OwnerKind returns the kind that owns entities of kind k, or "" for roots.
func (k Kind) OwnerKind() Kind {
	switch k {
	case KindProject, KindAlert:
		return KindUser
	case KindHealthSnapshot, KindPage, KindRecommendation, KindOptimizationRecord:
		return KindProject
	}
	return ""
}

// ChildOf reports whether child is listed under parent.
func ChildOf(parent, child Kind) bool {
	return child.Valid() && parent != "" && child.OwnerKind() == parent
}

// Ref points at another entity by kind and id.
type Ref struct {
	Kind Kind
	ID   string
}

// IsZero reports whether r points nowhere.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}
