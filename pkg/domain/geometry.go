package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GeometryType names the supported simple-feature shapes.
type GeometryType string

// Supported geometry types.
const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Coordinate is a 2D or 3D position. HasZ marks whether Z is meaningful.
type Coordinate struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z,omitempty"`
	HasZ bool    `json:"has_z,omitempty"`
}

// Geometry is a minimal simple-feature geometry. Polygons carry a single
// exterior ring.
type Geometry struct {
	Type        GeometryType `json:"type"`
	SRID        int          `json:"srid,omitempty"`
	Coordinates []Coordinate `json:"coordinates"`
}

// AxisSwapper adapts a geometry between the request axis order and the
// datasource axis order. Implementations are opaque CRS collaborators.
type AxisSwapper func(Geometry) (Geometry, error)

// Point builds a 2D point geometry.
func Point(srid int, x, y float64) Geometry {
	return Geometry{Type: GeometryPoint, SRID: srid, Coordinates: []Coordinate{{X: x, Y: y}}}
}

// IsEmpty reports whether the geometry has no coordinates.
func (g Geometry) IsEmpty() bool { return len(g.Coordinates) == 0 }

// Clone returns a deep copy.
func (g Geometry) Clone() Geometry {
	out := g
	out.Coordinates = append([]Coordinate(nil), g.Coordinates...)
	return out
}

// SwapAxes exchanges X and Y of every coordinate.
func (g Geometry) SwapAxes() Geometry {
	out := g.Clone()
	for i := range out.Coordinates {
		out.Coordinates[i].X, out.Coordinates[i].Y = out.Coordinates[i].Y, out.Coordinates[i].X
	}
	return out
}

// Equal compares type, SRID and coordinates.
func (g Geometry) Equal(other Geometry) bool {
	if g.Type != other.Type || g.SRID != other.SRID || len(g.Coordinates) != len(other.Coordinates) {
		return false
	}
	for i := range g.Coordinates {
		if g.Coordinates[i] != other.Coordinates[i] {
			return false
		}
	}
	return true
}

// WKT renders the geometry as well-known text.
func (g Geometry) WKT() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(g.Type)))
	if len(g.Coordinates) > 0 && g.Coordinates[0].HasZ {
		b.WriteString(" Z")
	}
	if g.IsEmpty() {
		b.WriteString(" EMPTY")
		return b.String()
	}
	b.WriteString(" (")
	if g.Type == GeometryPolygon {
		b.WriteString("(")
	}
	for i, c := range g.Coordinates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(c.X, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(c.Y, 'f', -1, 64))
		if c.HasZ {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(c.Z, 'f', -1, 64))
		}
	}
	if g.Type == GeometryPolygon {
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// ParseWKT parses the subset of WKT produced by Geometry.WKT.
func ParseWKT(srid int, text string) (Geometry, error) {
	text = strings.TrimSpace(text)
	open := strings.IndexByte(text, '(')
	head := text
	if open >= 0 {
		head = text[:open]
	}
	fields := strings.Fields(strings.ToUpper(head))
	if len(fields) == 0 {
		return Geometry{}, fmt.Errorf("parse wkt: missing geometry type")
	}
	var typ GeometryType
	switch fields[0] {
	case "POINT":
		typ = GeometryPoint
	case "LINESTRING":
		typ = GeometryLineString
	case "POLYGON":
		typ = GeometryPolygon
	default:
		return Geometry{}, fmt.Errorf("parse wkt: unsupported geometry type %s", fields[0])
	}
	g := Geometry{Type: typ, SRID: srid}
	if open < 0 {
		if len(fields) > 1 && fields[len(fields)-1] == "EMPTY" {
			return g, nil
		}
		return Geometry{}, fmt.Errorf("parse wkt: missing coordinates")
	}
	body := strings.Trim(text[open:], "() ")
	for _, part := range strings.Split(body, ",") {
		nums := strings.Fields(strings.Trim(part, "() "))
		if len(nums) < 2 || len(nums) > 3 {
			return Geometry{}, fmt.Errorf("parse wkt: bad coordinate %q", part)
		}
		var c Coordinate
		var err error
		if c.X, err = strconv.ParseFloat(nums[0], 64); err != nil {
			return Geometry{}, fmt.Errorf("parse wkt: %w", err)
		}
		if c.Y, err = strconv.ParseFloat(nums[1], 64); err != nil {
			return Geometry{}, fmt.Errorf("parse wkt: %w", err)
		}
		if len(nums) == 3 {
			if c.Z, err = strconv.ParseFloat(nums[2], 64); err != nil {
				return Geometry{}, fmt.Errorf("parse wkt: %w", err)
			}
			c.HasZ = true
		}
		g.Coordinates = append(g.Coordinates, c)
	}
	return g, nil
}
