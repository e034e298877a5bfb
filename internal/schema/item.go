package schema

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/JakeFAU/site-tracker/internal/model"
)

// Physical attribute and index names of the single table.
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrType   = "entity_type"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrGSI2PK = "GSI2PK"
	AttrGSI2SK = "GSI2SK"
	AttrGSI3PK = "GSI3PK"
	AttrGSI3SK = "GSI3SK"

	// LookupIndex resolves any non-root entity by kind and id.
	LookupIndex = "LookupIndex"
	// UniqueIndex resolves users by email.
	UniqueIndex = "UniqueIndex"
	// CategoryIndex lists recommendations by category across projects.
	CategoryIndex = "CategoryIndex"

	guardType = "unique_guard"
	sortTime  = "2006-01-02T15:04:05.000000Z"
)

var keyPrefixes = map[model.Kind]string{
	model.KindUser:               "USER",
	model.KindProject:            "PROJECT",
	model.KindHealthSnapshot:     "HEALTH",
	model.KindPage:               "PAGE",
	model.KindRecommendation:     "RECOMMENDATION",
	model.KindAlert:              "ALERT",
	model.KindOptimizationRecord: "OPTIMIZATION",
}

// Item is an entity laid out for the single table.
type Item map[string]types.AttributeValue

// PK returns the partition key of the item.
func (it Item) PK() string { return stringAttr(it, AttrPK) }

// SK returns the sort key of the item.
func (it Item) SK() string { return stringAttr(it, AttrSK) }

// Key returns only the primary key attributes.
func (it Item) Key() map[string]types.AttributeValue {
	return KeyOf(it.PK(), it.SK())
}

// KeyOf builds a primary key.
func KeyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func stringAttr(it map[string]types.AttributeValue, name string) string {
	if s, ok := it[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// EntityKey returns "<PREFIX>#<id>" for kind.
func EntityKey(kind model.Kind, id string) string {
	return keyPrefixes[kind] + "#" + id
}

// ChildPrefix returns the sort key prefix shared by every child of kind.
func ChildPrefix(kind model.Kind) string {
	return keyPrefixes[kind] + "#"
}

// PartitionKey returns the partition holding e.
func PartitionKey(e model.Entity) string {
	owner := e.Owner()
	if owner.IsZero() {
		return EntityKey(e.Kind(), e.GetID())
	}
	return EntityKey(owner.Kind, owner.ID)
}

// SortKey returns the sort key of e. Time-series kinds embed a fixed-width
// UTC timestamp so lexicographic order is chronological.
func SortKey(e model.Entity) string {
	if ts, ok := e.(model.TimeSeries); ok {
		return ChildPrefix(e.Kind()) + SortTime(ts.SortTime()) + "#" + e.GetID()
	}
	return EntityKey(e.Kind(), e.GetID())
}

// SortTime formats t for use inside a sort key.
func SortTime(t time.Time) string {
	return t.UTC().Format(sortTime)
}

// EmailKey is the UniqueIndex partition for an email.
func EmailKey(email string) string {
	return "EMAIL#" + model.NormalizeEmail(email)
}

// CategoryKey is the CategoryIndex partition for a category.
func CategoryKey(category string) string {
	return "CATEGORY#" + category
}

// CategoryProjectPrefix scopes CategoryIndex sort keys to one project.
func CategoryProjectPrefix(projectID string) string {
	return EntityKey(model.KindProject, projectID) + "#"
}

func encoderOptions(o *attributevalue.EncoderOptions) {
	o.TagKey = "json"
}

func decoderOptions(o *attributevalue.DecoderOptions) {
	o.TagKey = "json"
}

// ToItem maps e to its single-table item with every key and index attribute set.
func ToItem(e model.Entity) (Item, error) {
	if _, ok := keyPrefixes[e.Kind()]; !ok {
		return nil, fmt.Errorf("no key layout for kind %q", e.Kind())
	}
	av, err := attributevalue.MarshalMapWithOptions(e, encoderOptions)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	item := Item(av)
	setS(item, AttrPK, PartitionKey(e))
	setS(item, AttrSK, SortKey(e))
	setS(item, AttrType, string(e.Kind()))
	switch v := e.(type) {
	case *model.User:
		setS(item, AttrGSI2PK, EmailKey(v.Email))
		setS(item, AttrGSI2SK, EntityKey(model.KindUser, v.ID))
	default:
		setS(item, AttrGSI1PK, EntityKey(e.Kind(), e.GetID()))
		setS(item, AttrGSI1SK, item.PK())
	}
	if r, ok := e.(*model.Recommendation); ok {
		setS(item, AttrGSI3PK, CategoryKey(r.Category))
		setS(item, AttrGSI3SK, CategoryProjectPrefix(r.ProjectID)+EntityKey(model.KindRecommendation, r.ID))
	}
	return item, nil
}

func setS(item Item, name, value string) {
	item[name] = &types.AttributeValueMemberS{Value: value}
}

// FromItem rebuilds the entity stored in item.
func FromItem(item map[string]types.AttributeValue) (model.Entity, error) {
	kind := model.Kind(stringAttr(item, AttrType))
	e, err := kind.New()
	if err != nil {
		return nil, fmt.Errorf("item %s/%s: %w", stringAttr(item, AttrPK), stringAttr(item, AttrSK), err)
	}
	if err := attributevalue.UnmarshalMapWithOptions(item, e, decoderOptions); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return e, nil
}

// GuardItems returns the uniqueness markers that must be written alongside e.
// Each guard is keyed by the unique value so a conditional put fails on reuse.
func GuardItems(e model.Entity) []Item {
	var key string
	switch v := e.(type) {
	case *model.User:
		key = "UNIQUE#" + EmailKey(v.Email)
	case *model.Page:
		key = "UNIQUE#PAGE#" + v.ProjectID + "#" + v.URL
	default:
		return nil
	}
	guard := Item(KeyOf(key, key))
	setS(guard, AttrType, guardType)
	setS(guard, "owner_pk", PartitionKey(e))
	setS(guard, "owner_sk", SortKey(e))
	return []Item{guard}
}

// GuardOwner returns the primary key of the entity a guard item belongs to.
func GuardOwner(guard map[string]types.AttributeValue) (pk, sk string) {
	return stringAttr(guard, "owner_pk"), stringAttr(guard, "owner_sk")
}

// IsGuard reports whether item is a uniqueness marker rather than an entity.
func IsGuard(item map[string]types.AttributeValue) bool {
	return stringAttr(item, AttrType) == guardType
}

// UpdateSet splits the changed fields of e into attributes to SET and names
// to REMOVE (fields that are now empty and omitted from the item).
func UpdateSet(e model.Entity, fields []string) (map[string]types.AttributeValue, []string, error) {
	item, err := ToItem(e)
	if err != nil {
		return nil, nil, err
	}
	set := make(map[string]types.AttributeValue, len(fields))
	var remove []string
	for _, f := range fields {
		if v, ok := item[f]; ok {
			set[f] = v
			continue
		}
		remove = append(remove, f)
	}
	return set, remove, nil
}
