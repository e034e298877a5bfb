package model

// Preferences holds per-user dashboard settings.
type Preferences struct {
	Theme       string            `json:"theme,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	EmailAlerts *bool             `json:"email_alerts,omitempty"`
	Extensions  map[string]string `json:"extensions,omitempty"`
}

// Settings holds per-project crawl settings.
type Settings struct {
	CrawlFrequency string            `json:"crawl_frequency,omitempty"`
	MaxPages       int               `json:"max_pages,omitempty"`
	NotifyOnDrop   bool              `json:"notify_on_drop,omitempty"`
	Extensions     map[string]string `json:"extensions,omitempty"`
}

// CrawlData summarizes the crawl that produced a health snapshot.
type CrawlData struct {
	PagesCrawled     int               `json:"pages_crawled,omitempty"`
	BrokenLinks      int               `json:"broken_links,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
	DurationSeconds  float64           `json:"duration_seconds,omitempty"`
	ArtifactLocation string            `json:"artifact_location,omitempty"`
	Extensions       map[string]string `json:"extensions,omitempty"`
}

// PageMetadata holds SEO attributes extracted from a page.
type PageMetadata struct {
	MetaDescription  string            `json:"meta_description,omitempty"`
	H1Tags           []string          `json:"h1_tags,omitempty"`
	ImagesCount      int               `json:"images_count,omitempty"`
	LinksCount       int               `json:"links_count,omitempty"`
	ArtifactLocation string            `json:"artifact_location,omitempty"`
	Extensions       map[string]string `json:"extensions,omitempty"`
}

// AlertMetadata describes what raised an alert.
type AlertMetadata struct {
	Source     string            `json:"source,omitempty"`
	Score      *int              `json:"score,omitempty"`
	Threshold  *int              `json:"threshold,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// Change is a single before/after edit applied by an optimization.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// OptimizationChanges lists the edits an optimization applied.
type OptimizationChanges struct {
	Summary    string            `json:"summary,omitempty"`
	Items      []Change          `json:"items,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

func (p *Preferences) normalize() {
	p.Extensions = compactMap(p.Extensions)
}

func (s *Settings) normalize() {
	s.Extensions = compactMap(s.Extensions)
}

func (c *CrawlData) normalize() {
	if len(c.Errors) == 0 {
		c.Errors = nil
	}
	c.Extensions = compactMap(c.Extensions)
}

func (m *PageMetadata) normalize() {
	if len(m.H1Tags) == 0 {
		m.H1Tags = nil
	}
	m.Extensions = compactMap(m.Extensions)
}

func (m *AlertMetadata) normalize() {
	m.Extensions = compactMap(m.Extensions)
}

func (c *OptimizationChanges) normalize() {
	if len(c.Items) == 0 {
		c.Items = nil
	}
	c.Extensions = compactMap(c.Extensions)
}

func compactMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
