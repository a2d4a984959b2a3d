// Package rules parses rule templates and applies them to grid cells, and
// places multi-cell structures described by structure templates.
package rules

import "github.com/talgya/hexworld/internal/world"

// Template is a named, ordered collection of rules.
type Template struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Rules       []Rule   `yaml:"rules"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Rule fires its actions when every condition holds. Rules with a higher
// priority are tried first.
type Rule struct {
	Name       string         `yaml:"name"`
	Conditions []AnyCondition `yaml:"conditions"`
	Actions    []AnyAction    `yaml:"actions"`
	Priority   int            `yaml:"priority"`
}

// HexOffset is a planar offset from a structure's base position and the
// terrain placed there.
type HexOffset struct {
	Q       int           `yaml:"q"`
	R       int           `yaml:"r"`
	Terrain world.Terrain `yaml:"terrain"`
}

type ElevationRequirement struct {
	Min            int  `yaml:"min"`
	Max            int  `yaml:"max"`
	RelativeToBase bool `yaml:"relative_to_base"`
}

// StructureTemplate describes a multi-cell structure.
type StructureTemplate struct {
	Name                  string                `yaml:"name"`
	StructureType         string                `yaml:"structure_type"`
	Footprint             []HexOffset           `yaml:"footprint"`
	RequiredTerrain       *world.Terrain        `yaml:"required_terrain,omitempty"`
	ElevationRequirements *ElevationRequirement `yaml:"elevation_requirements,omitempty"`
	Tags                  []string              `yaml:"tags"`
	ParentTemplate        *string               `yaml:"parent_template,omitempty"`
	Variants              []StructureVariant    `yaml:"variants"`
	GenerationRules       GenerationRules       `yaml:"generation_rules"`
	Connections           []ConnectionPoint     `yaml:"connections"`
	InteriorLayout        *InteriorLayout       `yaml:"interior_layout,omitempty"`
}

type StructureVariant struct {
	Name          string                  `yaml:"name"`
	Probability   float64                 `yaml:"probability"`
	Modifications []StructureModification `yaml:"modifications"`
}

type GenerationRules struct {
	MinSpacing    int            `yaml:"min_spacing"`
	MaxCount      *int           `yaml:"max_count,omitempty"`
	Alignment     *AlignmentRule `yaml:"alignment,omitempty"`
	GrowthPattern *GrowthPattern `yaml:"growth_pattern,omitempty"`
}

type ConnectionPoint struct {
	Position       HexOffset      `yaml:"position"`
	ConnectionType ConnectionType `yaml:"connection_type"`
	Required       bool           `yaml:"required"`
}

type InteriorLayout struct {
	Rooms     []Room      `yaml:"rooms"`
	Corridors []Corridor  `yaml:"corridors"`
	Entrances []HexOffset `yaml:"entrances"`
}

// Room size is [width, height].
type Room struct {
	Size                [2]int   `yaml:"size,flow"`
	Purpose             string   `yaml:"purpose"`
	RequiredConnections []string `yaml:"required_connections"`
}

type Corridor struct {
	Start HexOffset `yaml:"start"`
	End   HexOffset `yaml:"end"`
	Width int       `yaml:"width"`
}

// The types below are internally tagged unions: "type" names the variant
// and only that variant's fields are meaningful.

type RoadStyle struct {
	Type      string  `yaml:"type"` // Straight, Winding, Organic
	Variation float64 `yaml:"variation,omitempty"`
	Roughness float64 `yaml:"roughness,omitempty"`
}

type TerrainOperation struct {
	Type      string  `yaml:"type"` // Smooth, Roughen, Raise, Lower, Flatten
	Intensity float64 `yaml:"intensity,omitempty"`
	Amount    int     `yaml:"amount,omitempty"`
	Target    int     `yaml:"target,omitempty"`
}

type WaterFeatureType struct {
	Type  string `yaml:"type"` // Lake, River, Ocean, Pond, Canal
	Width int    `yaml:"width,omitempty"`
}

type NoiseType struct {
	Type string `yaml:"type"` // Perlin, Simplex, Worley, Ridged
}

type RoofStyle struct {
	Type   string  `yaml:"type"` // Flat, Peaked, Domed, Tiered
	Slope  float64 `yaml:"slope,omitempty"`
	Radius int     `yaml:"radius,omitempty"`
	Levels int     `yaml:"levels,omitempty"`
}

type StructureModification struct {
	Type           string         `yaml:"type"` // AddFloor, AddWall, AddRoof, AddDecoration, ModifyTerrain
	Level          int            `yaml:"level,omitempty"`
	Terrain        *world.Terrain `yaml:"terrain,omitempty"`
	Position       *HexOffset     `yaml:"position,omitempty"`
	Height         int            `yaml:"height,omitempty"`
	Style          *RoofStyle     `yaml:"style,omitempty"`
	DecorationType string         `yaml:"decoration_type,omitempty"`
}

type ConnectionType struct {
	Type string `yaml:"type"` // Road, Wall, Bridge, Door, Path
}

type AlignmentRule struct {
	Type       string     `yaml:"type"` // Grid, Radial, Organic, Linear
	Spacing    int        `yaml:"spacing,omitempty"`
	Center     *HexOffset `yaml:"center,omitempty"`
	Rings      int        `yaml:"rings,omitempty"`
	MinSpacing int        `yaml:"min_spacing,omitempty"`
	Direction  int        `yaml:"direction,omitempty"`
}

type GrowthPattern struct {
	Type        string `yaml:"type"` // Outward, Inward, Linear, Clustered
	Direction   int    `yaml:"direction,omitempty"`
	ClusterSize int    `yaml:"cluster_size,omitempty"`
}

// Walk calls fn for every condition in the rule, descending into And, Or and
// Not. depth is 1 for top-level conditions.
func (r Rule) Walk(fn func(c Condition, depth int)) {
	for _, c := range r.Conditions {
		walkCondition(c.Condition, 1, fn)
	}
}

func walkCondition(c Condition, depth int, fn func(Condition, int)) {
	if c == nil {
		return
	}
	fn(c, depth)
	switch c := c.(type) {
	case *AndCondition:
		for _, sub := range c.Conditions {
			walkCondition(sub.Condition, depth+1, fn)
		}
	case *OrCondition:
		for _, sub := range c.Conditions {
			walkCondition(sub.Condition, depth+1, fn)
		}
	case *NotCondition:
		walkCondition(c.Condition.Condition, depth+1, fn)
	}
}
