package rules

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexworld/internal/world"
)

// ConditionType is the "type" discriminator of a serialized condition.
type ConditionType string

const (
	ConditionTerrainType       ConditionType = "TerrainType"
	ConditionElevationRange    ConditionType = "ElevationRange"
	ConditionAdjacentTo        ConditionType = "AdjacentTo"
	ConditionMinDistanceFrom   ConditionType = "MinDistanceFrom"
	ConditionMaxDistanceFrom   ConditionType = "MaxDistanceFrom"
	ConditionBiomeType         ConditionType = "BiomeType"
	ConditionNearWater         ConditionType = "NearWater"
	ConditionHasTag            ConditionType = "HasTag"
	ConditionPopulationDensity ConditionType = "PopulationDensity"
	ConditionResourceAvailable ConditionType = "ResourceAvailable"
	ConditionRoadAccess        ConditionType = "RoadAccess"
	ConditionSlopeRange        ConditionType = "SlopeRange"
	ConditionViewDistance      ConditionType = "ViewDistance"
	ConditionWindExposure      ConditionType = "WindExposure"
	ConditionSunExposure       ConditionType = "SunExposure"
	ConditionTemplateExists    ConditionType = "TemplateExists"
	ConditionAnd               ConditionType = "And"
	ConditionOr                ConditionType = "Or"
	ConditionNot               ConditionType = "Not"
)

// ErrUnknownCondition is returned for a condition with an unrecognized type.
var ErrUnknownCondition = errors.New("unknown condition type")

// Condition is one variant of the condition sum type.
type Condition interface {
	ConditionType() ConditionType
}

type TerrainTypeCondition struct {
	Terrain world.Terrain `yaml:"terrain"`
}

type ElevationRangeCondition struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type AdjacentToCondition struct {
	StructureType string `yaml:"structure_type"`
}

type MinDistanceFromCondition struct {
	StructureType string `yaml:"structure_type"`
	Distance      int    `yaml:"distance"`
}

type MaxDistanceFromCondition struct {
	StructureType string `yaml:"structure_type"`
	Distance      int    `yaml:"distance"`
}

type BiomeTypeCondition struct {
	Biome string `yaml:"biome"`
}

type NearWaterCondition struct {
	Distance int `yaml:"distance"`
}

type HasTagCondition struct {
	Tag string `yaml:"tag"`
}

type PopulationDensityCondition struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type ResourceAvailableCondition struct {
	Resource string `yaml:"resource"`
	Amount   int    `yaml:"amount"`
}

type RoadAccessCondition struct {
	Distance int `yaml:"distance"`
}

type SlopeRangeCondition struct {
	MinDegrees float64 `yaml:"min_degrees"`
	MaxDegrees float64 `yaml:"max_degrees"`
}

type ViewDistanceCondition struct {
	Min int `yaml:"min"`
}

type WindExposureCondition struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type SunExposureCondition struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type TemplateExistsCondition struct {
	TemplateName string `yaml:"template_name"`
}

type AndCondition struct {
	Conditions []AnyCondition `yaml:"conditions"`
}

type OrCondition struct {
	Conditions []AnyCondition `yaml:"conditions"`
}

type NotCondition struct {
	Condition AnyCondition `yaml:"condition"`
}

func (*TerrainTypeCondition) ConditionType() ConditionType       { return ConditionTerrainType }
func (*ElevationRangeCondition) ConditionType() ConditionType    { return ConditionElevationRange }
func (*AdjacentToCondition) ConditionType() ConditionType        { return ConditionAdjacentTo }
func (*MinDistanceFromCondition) ConditionType() ConditionType   { return ConditionMinDistanceFrom }
func (*MaxDistanceFromCondition) ConditionType() ConditionType   { return ConditionMaxDistanceFrom }
func (*BiomeTypeCondition) ConditionType() ConditionType         { return ConditionBiomeType }
func (*NearWaterCondition) ConditionType() ConditionType         { return ConditionNearWater }
func (*HasTagCondition) ConditionType() ConditionType            { return ConditionHasTag }
func (*PopulationDensityCondition) ConditionType() ConditionType { return ConditionPopulationDensity }
func (*ResourceAvailableCondition) ConditionType() ConditionType { return ConditionResourceAvailable }
func (*RoadAccessCondition) ConditionType() ConditionType        { return ConditionRoadAccess }
func (*SlopeRangeCondition) ConditionType() ConditionType        { return ConditionSlopeRange }
func (*ViewDistanceCondition) ConditionType() ConditionType      { return ConditionViewDistance }
func (*WindExposureCondition) ConditionType() ConditionType      { return ConditionWindExposure }
func (*SunExposureCondition) ConditionType() ConditionType       { return ConditionSunExposure }
func (*TemplateExistsCondition) ConditionType() ConditionType    { return ConditionTemplateExists }
func (*AndCondition) ConditionType() ConditionType               { return ConditionAnd }
func (*OrCondition) ConditionType() ConditionType                { return ConditionOr }
func (*NotCondition) ConditionType() ConditionType               { return ConditionNot }

var conditionFactories = map[ConditionType]func() Condition{
	ConditionTerrainType:       func() Condition { return &TerrainTypeCondition{} },
	ConditionElevationRange:    func() Condition { return &ElevationRangeCondition{} },
	ConditionAdjacentTo:        func() Condition { return &AdjacentToCondition{} },
	ConditionMinDistanceFrom:   func() Condition { return &MinDistanceFromCondition{} },
	ConditionMaxDistanceFrom:   func() Condition { return &MaxDistanceFromCondition{} },
	ConditionBiomeType:         func() Condition { return &BiomeTypeCondition{} },
	ConditionNearWater:         func() Condition { return &NearWaterCondition{} },
	ConditionHasTag:            func() Condition { return &HasTagCondition{} },
	ConditionPopulationDensity: func() Condition { return &PopulationDensityCondition{} },
	ConditionResourceAvailable: func() Condition { return &ResourceAvailableCondition{} },
	ConditionRoadAccess:        func() Condition { return &RoadAccessCondition{} },
	ConditionSlopeRange:        func() Condition { return &SlopeRangeCondition{} },
	ConditionViewDistance:      func() Condition { return &ViewDistanceCondition{} },
	ConditionWindExposure:      func() Condition { return &WindExposureCondition{} },
	ConditionSunExposure:       func() Condition { return &SunExposureCondition{} },
	ConditionTemplateExists:    func() Condition { return &TemplateExistsCondition{} },
	ConditionAnd:               func() Condition { return &AndCondition{} },
	ConditionOr:                func() Condition { return &OrCondition{} },
	ConditionNot:               func() Condition { return &NotCondition{} },
}

// AnyCondition carries a Condition through YAML. It is encoded internally
// tagged: the "type" key sits beside the variant's own fields.
type AnyCondition struct {
	Condition
}

// Cond wraps c for use in a Rule.
func Cond(c Condition) AnyCondition {
	return AnyCondition{Condition: c}
}

func (c *AnyCondition) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type ConditionType `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	factory, ok := conditionFactories[head.Type]
	if !ok {
		return fmt.Errorf("%w %q (line %d)", ErrUnknownCondition, head.Type, node.Line)
	}
	cond := factory()
	if err := decodeStrict(node, cond, "type"); err != nil {
		return fmt.Errorf("condition %s: %w", head.Type, err)
	}
	c.Condition = cond
	return nil
}

func (c AnyCondition) MarshalYAML() (any, error) {
	if c.Condition == nil {
		return nil, errors.New("condition: nil variant")
	}
	return taggedNode(string(c.ConditionType()), c.Condition)
}

// taggedNode encodes v as a mapping and prepends a "type" entry.
func taggedNode(tag string, v any) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected mapping, got kind %d", tag, node.Kind)
	}
	node.Content = append([]*yaml.Node{scalar("type"), scalar(tag)}, node.Content...)
	return &node, nil
}

// decodeStrict decodes node into v and fails on keys v has no field for.
// Keys listed in skip are dropped first. Node.Decode alone never reports
// unknown fields, so the node is re-encoded and read back with KnownFields.
func decodeStrict(node *yaml.Node, v any, skip ...string) error {
	trimmed := plain(node)
	if trimmed.Kind == yaml.MappingNode && len(skip) > 0 {
		kept := make([]*yaml.Node, 0, len(trimmed.Content))
		for i := 0; i+1 < len(trimmed.Content); i += 2 {
			if slices.Contains(skip, trimmed.Content[i].Value) {
				continue
			}
			kept = append(kept, trimmed.Content[i], trimmed.Content[i+1])
		}
		trimmed.Content = kept
	}
	b, err := yaml.Marshal(trimmed)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// plain copies n with every alias replaced by the node it names, so the
// copy encodes on its own.
func plain(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return plain(n.Alias)
	}
	c := *n
	c.Anchor = ""
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, sub := range n.Content {
			c.Content[i] = plain(sub)
		}
	}
	return &c
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
