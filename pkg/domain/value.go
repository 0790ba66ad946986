package domain

import (
	"fmt"
	"time"
)

// Kind identifies the type of an observation value.
type Kind string

// Supported scalar kinds.
const (
	KindBoolean   Kind = "boolean"
	KindCount     Kind = "count"
	KindQuantity  Kind = "quantity"
	KindText      Kind = "text"
	KindCategory  Kind = "category"
	KindGeometry  Kind = "geometry"
	KindReference Kind = "reference"
)

// Composite kinds carry child values instead of a scalar payload.
const (
	KindComplex Kind = "complex"
	KindProfile Kind = "profile"
)

// Kinds that are recognised on input but always rejected by the persister.
const (
	KindQuantityRange Kind = "quantity_range"
	KindTimeRange     Kind = "time_range"
	KindXML           Kind = "xml"
	KindCoverage      Kind = "coverage"
	KindDataArray     Kind = "data_array"
	KindTVP           Kind = "tvp"
	KindNilTemplate   Kind = "nil_template"
	KindHrefAttribute Kind = "href_attribute"
)

var allKinds = []Kind{
	KindBoolean,
	KindCount,
	KindQuantity,
	KindText,
	KindCategory,
	KindGeometry,
	KindReference,
	KindComplex,
	KindProfile,
	KindQuantityRange,
	KindTimeRange,
	KindXML,
	KindCoverage,
	KindDataArray,
	KindTVP,
	KindNilTemplate,
	KindHrefAttribute,
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind resolves a kind name.
func ParseKind(name string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown value kind %q", name)
}

// IsComposite reports whether values of this kind are made of child values.
func (k Kind) IsComposite() bool {
	switch k {
	case KindComplex, KindProfile:
		return true
	case KindBoolean, KindCount, KindQuantity, KindText, KindCategory, KindGeometry, KindReference,
		KindQuantityRange, KindTimeRange, KindXML, KindCoverage, KindDataArray, KindTVP,
		KindNilTemplate, KindHrefAttribute:
		return false
	}
	return false
}

// IsSupported reports whether the persister can store values of this kind.
func (k Kind) IsSupported() bool {
	switch k {
	case KindBoolean, KindCount, KindQuantity, KindText, KindCategory, KindGeometry, KindReference,
		KindComplex, KindProfile:
		return true
	case KindQuantityRange, KindTimeRange, KindXML, KindCoverage, KindDataArray, KindTVP,
		KindNilTemplate, KindHrefAttribute:
		return false
	}
	return false
}

// Value is an observation result. The set of implementations is closed to this
// package; dispatch on it with Accept.
type Value interface {
	Kind() Kind
	isValue()
}

// Composite values expose their sub-values in authored order.
type Composite interface {
	Value
	SubValues() []Value
}

// BooleanValue is a truth observation result.
type BooleanValue struct {
	Value bool `json:"value"`
}

// CountValue is an integer count result.
type CountValue struct {
	Value int64 `json:"value"`
}

// QuantityValue is a measured number with a unit of measure.
type QuantityValue struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"uom,omitempty"`
	Definition string  `json:"definition,omitempty"`
}

// TextValue is a free text result.
type TextValue struct {
	Value string `json:"value"`
}

// CategoryValue is a term from an optional codespace.
type CategoryValue struct {
	Value     string `json:"value"`
	Codespace string `json:"codespace,omitempty"`
}

// GeometryValue is a spatial result.
type GeometryValue struct {
	Geometry Geometry `json:"geometry"`
}

// ReferenceValue points at an external resource.
type ReferenceValue struct {
	Title string `json:"title,omitempty"`
	Href  string `json:"href"`
}

// Field is one named member of a complex value. Definition names the observed
// property the field is stored under.
type Field struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	Value      Value  `json:"-"`
}

// ComplexValue is a record of named sub-values.
type ComplexValue struct {
	Fields []Field `json:"fields"`
}

// LevelValue is one value inside a profile level. A non-empty Definition routes
// the value to that observed property instead of the profile's own.
type LevelValue struct {
	Definition string `json:"definition,omitempty"`
	Value      Value  `json:"-"`
}

// ProfileLevel is one depth or height slice of a profile.
type ProfileLevel struct {
	Start          *QuantityValue `json:"start,omitempty"`
	End            *QuantityValue `json:"end,omitempty"`
	Location       *Geometry      `json:"location,omitempty"`
	PhenomenonTime *TimePeriod    `json:"phenomenon_time,omitempty"`
	Values         []LevelValue   `json:"-"`
}

// ProfileValue is an ordered sequence of levels.
type ProfileValue struct {
	Levels         []ProfileLevel `json:"levels"`
	Geometry       *Geometry      `json:"geometry,omitempty"`
	PhenomenonTime *TimePeriod    `json:"phenomenon_time,omitempty"`
}

// UnsupportedValue stands in for any value kind the store refuses to persist
// (ranges, coverages, raw XML payloads and similar).
type UnsupportedValue struct {
	ValueKind Kind   `json:"kind"`
	Raw       string `json:"raw,omitempty"`
}

func (BooleanValue) Kind() Kind       { return KindBoolean }
func (CountValue) Kind() Kind         { return KindCount }
func (QuantityValue) Kind() Kind      { return KindQuantity }
func (TextValue) Kind() Kind          { return KindText }
func (CategoryValue) Kind() Kind      { return KindCategory }
func (GeometryValue) Kind() Kind      { return KindGeometry }
func (ReferenceValue) Kind() Kind     { return KindReference }
func (ComplexValue) Kind() Kind       { return KindComplex }
func (ProfileValue) Kind() Kind       { return KindProfile }
func (u UnsupportedValue) Kind() Kind { return u.ValueKind }

func (BooleanValue) isValue()     {}
func (CountValue) isValue()       {}
func (QuantityValue) isValue()    {}
func (TextValue) isValue()        {}
func (CategoryValue) isValue()    {}
func (GeometryValue) isValue()    {}
func (ReferenceValue) isValue()   {}
func (ComplexValue) isValue()     {}
func (ProfileValue) isValue()     {}
func (UnsupportedValue) isValue() {}

// SubValues returns field values in field order.
func (c ComplexValue) SubValues() []Value {
	out := make([]Value, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Value)
	}
	return out
}

// SubValues returns every level value, level by level.
func (p ProfileValue) SubValues() []Value {
	var out []Value
	for _, level := range p.Levels {
		for _, lv := range level.Values {
			out = append(out, lv.Value)
		}
	}
	return out
}

// Visitor handles every value kind. Accept guarantees exactly one method is
// called per value.
type Visitor[T any] interface {
	VisitBoolean(BooleanValue) (T, error)
	VisitCount(CountValue) (T, error)
	VisitQuantity(QuantityValue) (T, error)
	VisitText(TextValue) (T, error)
	VisitCategory(CategoryValue) (T, error)
	VisitGeometry(GeometryValue) (T, error)
	VisitReference(ReferenceValue) (T, error)
	VisitComplex(ComplexValue) (T, error)
	VisitProfile(ProfileValue) (T, error)
	VisitUnsupported(UnsupportedValue) (T, error)
}

// Accept dispatches v to the matching visitor method. Pointer values are
// dereferenced; a nil value is reported as unsupported.
func Accept[T any](v Value, visitor Visitor[T]) (T, error) {
	switch val := v.(type) {
	case BooleanValue:
		return visitor.VisitBoolean(val)
	case *BooleanValue:
		return visitor.VisitBoolean(*val)
	case CountValue:
		return visitor.VisitCount(val)
	case *CountValue:
		return visitor.VisitCount(*val)
	case QuantityValue:
		return visitor.VisitQuantity(val)
	case *QuantityValue:
		return visitor.VisitQuantity(*val)
	case TextValue:
		return visitor.VisitText(val)
	case *TextValue:
		return visitor.VisitText(*val)
	case CategoryValue:
		return visitor.VisitCategory(val)
	case *CategoryValue:
		return visitor.VisitCategory(*val)
	case GeometryValue:
		return visitor.VisitGeometry(val)
	case *GeometryValue:
		return visitor.VisitGeometry(*val)
	case ReferenceValue:
		return visitor.VisitReference(val)
	case *ReferenceValue:
		return visitor.VisitReference(*val)
	case ComplexValue:
		return visitor.VisitComplex(val)
	case *ComplexValue:
		return visitor.VisitComplex(*val)
	case ProfileValue:
		return visitor.VisitProfile(val)
	case *ProfileValue:
		return visitor.VisitProfile(*val)
	case UnsupportedValue:
		return visitor.VisitUnsupported(val)
	case *UnsupportedValue:
		return visitor.VisitUnsupported(*val)
	default:
		var zero T
		return zero, &UnsupportedValueKindError{Kind: "nil"}
	}
}

// TimePeriod is a phenomenon or result time. Start equal to End denotes an instant.
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Instant returns a zero-length period at t.
func Instant(t time.Time) TimePeriod {
	return TimePeriod{Start: t, End: t}
}

// IsInstant reports whether the period has no duration.
func (p TimePeriod) IsInstant() bool { return p.Start.Equal(p.End) }

// IsZero reports whether neither bound is set.
func (p TimePeriod) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// TimeValuePair is one element of a streamed series.
type TimeValuePair struct {
	Time  TimePeriod
	Value Value
}
