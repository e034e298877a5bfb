package model

// Role is a user's access level.
type Role string

// Roles a user may hold.
const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser || r == RoleViewer
}

// ProjectStatus tracks whether a project is being monitored.
type ProjectStatus string

// Project statuses.
const (
	ProjectActive         ProjectStatus = "active"
	ProjectInactive       ProjectStatus = "inactive"
	ProjectNeedsAttention ProjectStatus = "needs_attention"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	return s == ProjectActive || s == ProjectInactive || s == ProjectNeedsAttention
}

// PageStatus is the crawl verdict for a page.
type PageStatus string

// Page statuses.
const (
	PageHealthy   PageStatus = "healthy"
	PageBroken    PageStatus = "broken"
	PageHasIssues PageStatus = "has_issues"
)

// Valid reports whether s is a known page status.
func (s PageStatus) Valid() bool {
	return s == PageHealthy || s == PageBroken || s == PageHasIssues
}

// Priority ranks recommendations and alerts.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// RecommendationStatus is the lifecycle state of a recommendation.
type RecommendationStatus string

// Recommendation statuses.
const (
	RecommendationPending     RecommendationStatus = "pending"
	RecommendationAccepted    RecommendationStatus = "accepted"
	RecommendationImplemented RecommendationStatus = "implemented"
	RecommendationDismissed   RecommendationStatus = "dismissed"
)

// Valid reports whether s is a known recommendation status.
func (s RecommendationStatus) Valid() bool {
	switch s {
	case RecommendationPending, RecommendationAccepted, RecommendationImplemented, RecommendationDismissed:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert statuses.
const (
	AlertActive    AlertStatus = "active"
	AlertDismissed AlertStatus = "dismissed"
	AlertResolved  AlertStatus = "resolved"
)

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	return s == AlertActive || s == AlertDismissed || s == AlertResolved
}

var recommendationMoves = map[RecommendationStatus][]RecommendationStatus{
	RecommendationPending:  {RecommendationAccepted, RecommendationDismissed, RecommendationImplemented},
	RecommendationAccepted: {RecommendationImplemented, RecommendationDismissed},
}

var alertMoves = map[AlertStatus][]AlertStatus{
	AlertActive:    {AlertDismissed, AlertResolved},
	AlertDismissed: {AlertResolved},
}

// CanTransition reports whether a recommendation may move from s to next.
// Staying in the same status is always allowed.
func (s RecommendationStatus) CanTransition(next RecommendationStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range recommendationMoves[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanTransition reports whether an alert may move from s to next.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range alertMoves[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
