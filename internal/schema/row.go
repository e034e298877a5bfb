// Package schema maps canonical entities to their physical shapes: relational
// rows and single-table NoSQL items. Both mappings are lossless.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/site-tracker/internal/model"
)

// ColumnType drives how a canonical field is bound to a SQL parameter.
type ColumnType int

// Column types.
const (
	Text ColumnType = iota
	OptionalText
	Integer
	BigInt
	Float
	Bool
	Timestamp
	OptionalTimestamp
	JSON
)

// Column is one relational column. Name equals the canonical field name.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes the relational shape of one kind.
type Table struct {
	Name    string
	Columns []Column
	// OrderBy is the recency order used for listings.
	OrderBy string
}

var tables = map[model.Kind]Table{
	model.KindUser: {
		Name: "users",
		Columns: []Column{
			{"id", Text}, {"email", Text}, {"name", Text}, {"role", Text},
			{"preferences", JSON}, {"is_active", Bool},
			{"created_at", Timestamp}, {"updated_at", Timestamp}, {"last_login_at", OptionalTimestamp},
		},
		OrderBy: "id DESC",
	},
	model.KindProject: {
		Name: "projects",
		Columns: []Column{
			{"id", Text}, {"user_id", Text}, {"domain", Text}, {"name", Text}, {"status", Text},
			{"settings", JSON}, {"scraped_files", Text}, {"auto_optimize", Bool},
			{"last_crawl_at", OptionalTimestamp}, {"created_at", Timestamp}, {"updated_at", Timestamp},
		},
		OrderBy: "id DESC",
	},
	model.KindHealthSnapshot: {
		Name: "health_snapshots",
		Columns: []Column{
			{"id", Text}, {"project_id", Text}, {"timestamp", Timestamp},
			{"overall_score", Integer}, {"technical_seo", Integer}, {"content_seo", Integer},
			{"performance", Integer}, {"internal_linking", Integer}, {"visual_ux", Integer},
			{"authority_backlinks", Integer},
			{"total_impressions", BigInt}, {"total_engagements", BigInt}, {"total_conversions", BigInt},
			{"crawl_data", JSON},
		},
		OrderBy: `"timestamp" DESC, id DESC`,
	},
	model.KindPage: {
		Name: "pages",
		Columns: []Column{
			{"id", Text}, {"project_id", Text}, {"url", Text}, {"title", Text}, {"status", Text},
			{"word_count", Integer}, {"load_time", Float}, {"metadata", JSON},
			{"last_crawled_at", Timestamp}, {"created_at", Timestamp},
		},
		OrderBy: "id DESC",
	},
	model.KindRecommendation: {
		Name: "recommendations",
		Columns: []Column{
			{"id", Text}, {"project_id", Text}, {"page_url", Text}, {"category", Text},
			{"issue", Text}, {"recommendation", Text}, {"priority", Text}, {"status", Text},
			{"impact_score", Integer}, {"created_at", Timestamp}, {"updated_at", Timestamp},
		},
		OrderBy: "id DESC",
	},
	model.KindAlert: {
		Name: "alerts",
		Columns: []Column{
			{"id", Text}, {"user_id", Text}, {"project_id", OptionalText}, {"type", Text},
			{"priority", Text}, {"status", Text}, {"title", Text}, {"message", Text},
			{"metadata", JSON}, {"created_at", Timestamp}, {"dismissed_at", OptionalTimestamp},
		},
		OrderBy: "id DESC",
	},
	model.KindOptimizationRecord: {
		Name: "optimization_records",
		Columns: []Column{
			{"id", Text}, {"project_id", Text}, {"page_url", Text}, {"recommendation_id", OptionalText},
			{"optimization_type", Text}, {"description", Text},
			{"before_score", Integer}, {"after_score", Integer},
			{"changes", JSON}, {"created_at", Timestamp},
		},
		OrderBy: "created_at DESC, id DESC",
	},
}

// TableFor returns the relational shape of kind.
func TableFor(kind model.Kind) (Table, error) {
	t, ok := tables[kind]
	if !ok {
		return Table{}, fmt.Errorf("no table for kind %q", kind)
	}
	return t, nil
}

// ColumnNames returns the column names in table order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ParentColumn is the foreign key column naming the owner.
func ParentColumn(kind model.Kind) string {
	switch kind.OwnerKind() {
	case model.KindUser:
		return "user_id"
	case model.KindProject:
		return "project_id"
	}
	return ""
}

// Row is an entity bound to SQL parameters.
type Row struct {
	Table   string
	Columns []string
	Values  []any
}

// ToRow maps e to its relational row.
func ToRow(e model.Entity) (Row, error) {
	t, err := TableFor(e.Kind())
	if err != nil {
		return Row{}, err
	}
	fields, err := canonicalFields(e)
	if err != nil {
		return Row{}, err
	}
	row := Row{Table: t.Name, Columns: t.ColumnNames(), Values: make([]any, len(t.Columns))}
	for i, col := range t.Columns {
		v, err := bindColumn(col, fields[col.Name])
		if err != nil {
			return Row{}, fmt.Errorf("%s.%s: %w", t.Name, col.Name, err)
		}
		row.Values[i] = v
	}
	return row, nil
}

// Pick returns the columns and values of r restricted to names, in the order given.
func (r Row) Pick(names []string) ([]string, []any, error) {
	cols := make([]string, 0, len(names))
	vals := make([]any, 0, len(names))
	for _, name := range names {
		idx := -1
		for i, c := range r.Columns {
			if c == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("%s has no column %q", r.Table, name)
		}
		cols = append(cols, name)
		vals = append(vals, r.Values[idx])
	}
	return cols, vals, nil
}

// FromRow rebuilds an entity of kind from column values in table order. It
// accepts the value types pgx decodes (int32, int64, float64, bool, string,
// []byte, time.Time, decoded JSON) and nil for NULL.
func FromRow(kind model.Kind, values []any) (model.Entity, error) {
	t, err := TableFor(kind)
	if err != nil {
		return nil, err
	}
	if len(values) != len(t.Columns) {
		return nil, fmt.Errorf("%s: expected %d columns, got %d", t.Name, len(t.Columns), len(values))
	}
	fields := make(map[string]json.RawMessage, len(values))
	for i, col := range t.Columns {
		raw, err := scanColumn(col, values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, col.Name, err)
		}
		fields[col.Name] = raw
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", t.Name, err)
	}
	e, err := kind.New()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(encoded, e); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", t.Name, err)
	}
	return e, nil
}

func canonicalFields(e model.Entity) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind(), err)
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func bindColumn(col Column, raw json.RawMessage) (any, error) {
	switch col.Type {
	case JSON:
		if isNull(raw) {
			return []byte("{}"), nil
		}
		return []byte(raw), nil
	case OptionalText, OptionalTimestamp:
		if isNull(raw) || string(raw) == `""` {
			return nil, nil
		}
	}
	if isNull(raw) {
		raw = nil
	}
	switch col.Type {
	case Text, OptionalText:
		var s string
		if raw != nil {
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, err
			}
		}
		return s, nil
	case Integer, BigInt:
		var n int64
		if raw != nil {
			if err := json.Unmarshal(raw, &n); err != nil {
				return nil, err
			}
		}
		return n, nil
	case Float:
		var f float64
		if raw != nil {
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, err
			}
		}
		return f, nil
	case Bool:
		var b bool
		if raw != nil {
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, err
			}
		}
		return b, nil
	case Timestamp, OptionalTimestamp:
		var ts time.Time
		if raw != nil {
			if err := json.Unmarshal(raw, &ts); err != nil {
				return nil, err
			}
		}
		return ts.UTC(), nil
	}
	return nil, fmt.Errorf("unknown column type %d", col.Type)
}

func scanColumn(col Column, v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	switch val := v.(type) {
	case time.Time:
		v = model.Timestamp(val)
	case *time.Time:
		if val == nil {
			return json.RawMessage("null"), nil
		}
		v = model.Timestamp(*val)
	case []byte:
		if col.Type == JSON {
			return json.RawMessage(val), nil
		}
		v = string(val)
	case string:
		if col.Type == JSON {
			return json.RawMessage(val), nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
