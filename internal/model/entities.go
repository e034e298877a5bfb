package model

import (
	"fmt"
	"strings"
	"time"
)

// Entity is implemented by every canonical record type.
type Entity interface {
	Kind() Kind
	GetID() string
	SetID(id string)
	// Owner is the entity this one is listed under. Zero for users.
	Owner() Ref
	// References lists every entity that must exist for this one to be valid,
	// owner first.
	References() []Ref
	// Prepare fills defaults and normalizes timestamps and extension maps.
	Prepare(now time.Time)
	Validate() error
}

// TimeSeries is implemented by entities ordered by a timestamp.
type TimeSeries interface {
	Entity
	SortTime() time.Time
}

// Timestamp normalizes t to UTC with microsecond precision, the finest
// resolution both backends keep.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

func timestampPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	ts := Timestamp(*t)
	return &ts
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return Timestamp(now)
	}
	return Timestamp(t)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id", "is required")
	}
	return nil
}

func checkScore(field string, v int) error {
	if v < 0 || v > 100 {
		return invalid(field, fmt.Sprintf("%d is outside [0,100]", v))
	}
	return nil
}

// User owns projects and alerts.
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Role        Role        `json:"role"`
	Preferences Preferences `json:"preferences"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
}

func (*User) Kind() Kind { return KindUser }
func (u *User) GetID() string { return u.ID }
func (u *User) SetID(id string) { u.ID = id }
func (*User) Owner() Ref { return Ref{} }
func (*User) References() []Ref { return nil }

func (u *User) Prepare(now time.Time) {
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.CreatedAt = orNow(u.CreatedAt, now)
	u.UpdatedAt = orNow(u.UpdatedAt, u.CreatedAt)
	u.LastLoginAt = timestampPtr(u.LastLoginAt)
	u.Preferences.normalize()
}

func (u *User) Validate() error {
	if err := requireID(u.ID); err != nil {
		return err
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return invalid("email", "must be a valid address")
	}
	if u.Email != NormalizeEmail(u.Email) {
		return invalid("email", "must be lower-case and trimmed")
	}
	if !u.Role.Valid() {
		return invalid("role", fmt.Sprintf("unknown role %q", u.Role))
	}
	return nil
}

// Project is a monitored website.
type Project struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Domain       string        `json:"domain"`
	Name         string        `json:"name"`
	Status       ProjectStatus `json:"status"`
	Settings     Settings      `json:"settings"`
	ScrapedFiles string        `json:"scraped_files,omitempty"`
	AutoOptimize bool          `json:"auto_optimize"`
	LastCrawlAt  *time.Time    `json:"last_crawl_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (*Project) Kind() Kind { return KindProject }
func (p *Project) GetID() string { return p.ID }
func (p *Project) SetID(id string) { p.ID = id }
func (p *Project) Owner() Ref { return Ref{Kind: KindUser, ID: p.UserID} }
func (p *Project) References() []Ref {
	return []Ref{p.Owner()}
}

func (p *Project) Prepare(now time.Time) {
	p.Domain = strings.TrimSpace(p.Domain)
	if p.Status == "" {
		p.Status = ProjectActive
	}
	p.CreatedAt = orNow(p.CreatedAt, now)
	p.UpdatedAt = orNow(p.UpdatedAt, p.CreatedAt)
	p.LastCrawlAt = timestampPtr(p.LastCrawlAt)
	p.Settings.normalize()
}

func (p *Project) Validate() error {
	if err := requireID(p.ID); err != nil {
		return err
	}
	if p.UserID == "" {
		return invalid("user_id", "is required")
	}
	if p.Domain == "" {
		return invalid("domain", "must not be empty")
	}
	if !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown project status %q", p.Status))
	}
	return nil
}

// HealthSnapshot is a point-in-time score card for a project.
type HealthSnapshot struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	Timestamp          time.Time `json:"timestamp"`
	OverallScore       int       `json:"overall_score"`
	TechnicalSEO       int       `json:"technical_seo"`
	ContentSEO         int       `json:"content_seo"`
	Performance        int       `json:"performance"`
	InternalLinking    int       `json:"internal_linking"`
	VisualUX           int       `json:"visual_ux"`
	AuthorityBacklinks int       `json:"authority_backlinks"`
	TotalImpressions   int64     `json:"total_impressions"`
	TotalEngagements   int64     `json:"total_engagements"`
	TotalConversions   int64     `json:"total_conversions"`
	CrawlData          CrawlData `json:"crawl_data"`
}

func (*HealthSnapshot) Kind() Kind { return KindHealthSnapshot }
func (h *HealthSnapshot) GetID() string { return h.ID }
func (h *HealthSnapshot) SetID(id string) { h.ID = id }
func (h *HealthSnapshot) Owner() Ref { return Ref{Kind: KindProject, ID: h.ProjectID} }
func (h *HealthSnapshot) References() []Ref { return []Ref{h.Owner()} }
func (h *HealthSnapshot) SortTime() time.Time {
	return h.Timestamp
}

func (h *HealthSnapshot) Prepare(now time.Time) {
	h.Timestamp = orNow(h.Timestamp, now)
	h.CrawlData.normalize()
}

func (h *HealthSnapshot) Validate() error {
	if err := requireID(h.ID); err != nil {
		return err
	}
	if h.ProjectID == "" {
		return invalid("project_id", "is required")
	}
	if h.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	scores := []struct {
		field string
		value int
	}{
		{"overall_score", h.OverallScore},
		{"technical_seo", h.TechnicalSEO},
		{"content_seo", h.ContentSEO},
		{"performance", h.Performance},
		{"internal_linking", h.InternalLinking},
		{"visual_ux", h.VisualUX},
		{"authority_backlinks", h.AuthorityBacklinks},
	}
	for _, s := range scores {
		if err := checkScore(s.field, s.value); err != nil {
			return err
		}
	}
	if h.TotalImpressions < 0 || h.TotalEngagements < 0 || h.TotalConversions < 0 {
		return invalid("totals", "must not be negative")
	}
	return nil
}

// Page is a single crawled URL within a project.
type Page struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	URL           string       `json:"url"`
	Title         string       `json:"title,omitempty"`
	Status        PageStatus   `json:"status"`
	WordCount     int          `json:"word_count"`
	LoadTime      float64      `json:"load_time"`
	Metadata      PageMetadata `json:"metadata"`
	LastCrawledAt time.Time    `json:"last_crawled_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (*Page) Kind() Kind { return KindPage }
func (p *Page) GetID() string { return p.ID }
func (p *Page) SetID(id string) { p.ID = id }
func (p *Page) Owner() Ref { return Ref{Kind: KindProject, ID: p.ProjectID} }
func (p *Page) References() []Ref { return []Ref{p.Owner()} }

func (p *Page) Prepare(now time.Time) {
	p.URL = strings.TrimSpace(p.URL)
	if p.Status == "" {
		p.Status = PageHealthy
	}
	p.CreatedAt = orNow(p.CreatedAt, now)
	p.LastCrawledAt = orNow(p.LastCrawledAt, p.CreatedAt)
	p.Metadata.normalize()
}

func (p *Page) Validate() error {
	if err := requireID(p.ID); err != nil {
		return err
	}
	if p.ProjectID == "" {
		return invalid("project_id", "is required")
	}
	if p.URL == "" {
		return invalid("url", "is required")
	}
	if !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown page status %q", p.Status))
	}
	if p.WordCount < 0 || p.LoadTime < 0 {
		return invalid("word_count", "counters must not be negative")
	}
	return nil
}

// Recommendation is a suggested fix for a project or one of its pages.
type Recommendation struct {
	ID             string               `json:"id"`
	ProjectID      string               `json:"project_id"`
	PageURL        string               `json:"page_url,omitempty"`
	Category       string               `json:"category"`
	Issue          string               `json:"issue"`
	Recommendation string               `json:"recommendation"`
	Priority       Priority             `json:"priority"`
	Status         RecommendationStatus `json:"status"`
	ImpactScore    int                  `json:"impact_score"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (*Recommendation) Kind() Kind { return KindRecommendation }
func (r *Recommendation) GetID() string { return r.ID }
func (r *Recommendation) SetID(id string) { r.ID = id }
func (r *Recommendation) Owner() Ref { return Ref{Kind: KindProject, ID: r.ProjectID} }
func (r *Recommendation) References() []Ref { return []Ref{r.Owner()} }

func (r *Recommendation) Prepare(now time.Time) {
	r.Category = strings.TrimSpace(r.Category)
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Status == "" {
		r.Status = RecommendationPending
	}
	r.CreatedAt = orNow(r.CreatedAt, now)
	r.UpdatedAt = orNow(r.UpdatedAt, r.CreatedAt)
}

func (r *Recommendation) Validate() error {
	if err := requireID(r.ID); err != nil {
		return err
	}
	if r.ProjectID == "" {
		return invalid("project_id", "is required")
	}
	if r.Category == "" {
		return invalid("category", "is required")
	}
	if !r.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", r.Priority))
	}
	if !r.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown recommendation status %q", r.Status))
	}
	return checkScore("impact_score", r.ImpactScore)
}

// Alert notifies a user about a change in one of their projects.
type Alert struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ProjectID   string        `json:"project_id,omitempty"`
	Type        string        `json:"type"`
	Priority    Priority      `json:"priority"`
	Status      AlertStatus   `json:"status"`
	Title       string        `json:"title,omitempty"`
	Message     string        `json:"message"`
	Metadata    AlertMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
	DismissedAt *time.Time    `json:"dismissed_at,omitempty"`
}

func (*Alert) Kind() Kind { return KindAlert }
func (a *Alert) GetID() string { return a.ID }
func (a *Alert) SetID(id string) { a.ID = id }
func (a *Alert) Owner() Ref { return Ref{Kind: KindUser, ID: a.UserID} }
func (a *Alert) References() []Ref {
	refs := []Ref{a.Owner()}
	if a.ProjectID != "" {
		refs = append(refs, Ref{Kind: KindProject, ID: a.ProjectID})
	}
	return refs
}

func (a *Alert) Prepare(now time.Time) {
	if a.Priority == "" {
		a.Priority = PriorityMedium
	}
	if a.Status == "" {
		a.Status = AlertActive
	}
	a.CreatedAt = orNow(a.CreatedAt, now)
	a.DismissedAt = timestampPtr(a.DismissedAt)
	if a.Status != AlertActive && a.DismissedAt == nil {
		ts := a.CreatedAt
		a.DismissedAt = &ts
	}
	a.Metadata.normalize()
}

func (a *Alert) Validate() error {
	if err := requireID(a.ID); err != nil {
		return err
	}
	if a.UserID == "" {
		return invalid("user_id", "is required")
	}
	if a.Type == "" {
		return invalid("type", "is required")
	}
	if !a.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", a.Priority))
	}
	if !a.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown alert status %q", a.Status))
	}
	if (a.Status == AlertActive) != (a.DismissedAt == nil) {
		return invalid("dismissed_at", "must be set exactly when status is not active")
	}
	return nil
}

// OptimizationRecord logs a change applied to a page and its score impact.
type OptimizationRecord struct {
	ID               string              `json:"id"`
	ProjectID        string              `json:"project_id"`
	PageURL          string              `json:"page_url"`
	RecommendationID string              `json:"recommendation_id,omitempty"`
	OptimizationType string              `json:"optimization_type"`
	Description      string              `json:"description,omitempty"`
	BeforeScore      int                 `json:"before_score"`
	AfterScore       int                 `json:"after_score"`
	Changes          OptimizationChanges `json:"changes"`
	CreatedAt        time.Time           `json:"created_at"`
}

func (*OptimizationRecord) Kind() Kind { return KindOptimizationRecord }
func (o *OptimizationRecord) GetID() string { return o.ID }
func (o *OptimizationRecord) SetID(id string) { o.ID = id }
func (o *OptimizationRecord) Owner() Ref { return Ref{Kind: KindProject, ID: o.ProjectID} }
func (o *OptimizationRecord) References() []Ref {
	refs := []Ref{o.Owner()}
	if o.RecommendationID != "" {
		refs = append(refs, Ref{Kind: KindRecommendation, ID: o.RecommendationID})
	}
	return refs
}
func (o *OptimizationRecord) SortTime() time.Time {
	return o.CreatedAt
}

func (o *OptimizationRecord) Prepare(now time.Time) {
	o.CreatedAt = orNow(o.CreatedAt, now)
	o.Changes.normalize()
}

func (o *OptimizationRecord) Validate() error {
	if err := requireID(o.ID); err != nil {
		return err
	}
	if o.ProjectID == "" {
		return invalid("project_id", "is required")
	}
	if o.PageURL == "" {
		return invalid("page_url", "is required")
	}
	if o.OptimizationType == "" {
		return invalid("optimization_type", "is required")
	}
	if err := checkScore("before_score", o.BeforeScore); err != nil {
		return err
	}
	return checkScore("after_score", o.AfterScore)
}
