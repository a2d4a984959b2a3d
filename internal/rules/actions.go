package rules

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexworld/internal/world"
)

// ActionType is the "type" discriminator of a serialized action.
type ActionType string

const (
	ActionPlaceStructure        ActionType = "PlaceStructure"
	ActionSetTerrain            ActionType = "SetTerrain"
	ActionSetElevation          ActionType = "SetElevation"
	ActionAddTag                ActionType = "AddTag"
	ActionGenerateWall          ActionType = "GenerateWall"
	ActionApplyTemplate         ActionType = "ApplyTemplate"
	ActionGenerateRoad          ActionType = "GenerateRoad"
	ActionPlaceStructureCluster ActionType = "PlaceStructureCluster"
	ActionModifyTerrain         ActionType = "ModifyTerrain"
	ActionSpawnResource         ActionType = "SpawnResource"
	ActionSetBiome              ActionType = "SetBiome"
	ActionCreateWaterFeature    ActionType = "CreateWaterFeature"
	ActionApplyNoise            ActionType = "ApplyNoise"
)

// ErrUnknownAction is returned for an action with an unrecognized type.
var ErrUnknownAction = errors.New("unknown action type")

// Action is one variant of the action sum type.
type Action interface {
	ActionType() ActionType
}

type PlaceStructureAction struct {
	Structure StructureTemplate `yaml:"structure"`
}

type SetTerrainAction struct {
	Terrain world.Terrain `yaml:"terrain"`
}

type SetElevationAction struct {
	Elevation int `yaml:"elevation"`
}

type AddTagAction struct {
	Tag string `yaml:"tag"`
}

type GenerateWallAction struct {
	Height   int           `yaml:"height"`
	Material world.Terrain `yaml:"material"`
}

type ApplyTemplateAction struct {
	TemplateName string `yaml:"template_name"`
}

type GenerateRoadAction struct {
	Width    int            `yaml:"width"`
	Material world.Terrain  `yaml:"material"`
	To       world.Position `yaml:"to"`
	Style    RoadStyle      `yaml:"style"`
}

type PlaceStructureClusterAction struct {
	Structure StructureTemplate `yaml:"structure"`
	Count     int               `yaml:"count"`
	Spacing   int               `yaml:"spacing"`
	Variation bool              `yaml:"variation"`
}

type ModifyTerrainAction struct {
	Radius    int              `yaml:"radius"`
	Operation TerrainOperation `yaml:"operation"`
}

type SpawnResourceAction struct {
	ResourceType string `yaml:"resource_type"`
	Amount       int    `yaml:"amount"`
	Spread       int    `yaml:"spread"`
}

type SetBiomeAction struct {
	Biome string `yaml:"biome"`
}

type CreateWaterFeatureAction struct {
	FeatureType WaterFeatureType `yaml:"feature_type"`
	Size        int              `yaml:"size"`
}

type ApplyNoiseAction struct {
	NoiseType NoiseType `yaml:"noise_type"`
	Amplitude float64   `yaml:"amplitude"`
	Frequency float64   `yaml:"frequency"`
}

func (*PlaceStructureAction) ActionType() ActionType        { return ActionPlaceStructure }
func (*SetTerrainAction) ActionType() ActionType            { return ActionSetTerrain }
func (*SetElevationAction) ActionType() ActionType          { return ActionSetElevation }
func (*AddTagAction) ActionType() ActionType                { return ActionAddTag }
func (*GenerateWallAction) ActionType() ActionType          { return ActionGenerateWall }
func (*ApplyTemplateAction) ActionType() ActionType         { return ActionApplyTemplate }
func (*GenerateRoadAction) ActionType() ActionType          { return ActionGenerateRoad }
func (*PlaceStructureClusterAction) ActionType() ActionType { return ActionPlaceStructureCluster }
func (*ModifyTerrainAction) ActionType() ActionType         { return ActionModifyTerrain }
func (*SpawnResourceAction) ActionType() ActionType         { return ActionSpawnResource }
func (*SetBiomeAction) ActionType() ActionType              { return ActionSetBiome }
func (*CreateWaterFeatureAction) ActionType() ActionType    { return ActionCreateWaterFeature }
func (*ApplyNoiseAction) ActionType() ActionType            { return ActionApplyNoise }

var actionFactories = map[ActionType]func() Action{
	ActionPlaceStructure:        func() Action { return &PlaceStructureAction{} },
	ActionSetTerrain:            func() Action { return &SetTerrainAction{} },
	ActionSetElevation:          func() Action { return &SetElevationAction{} },
	ActionAddTag:                func() Action { return &AddTagAction{} },
	ActionGenerateWall:          func() Action { return &GenerateWallAction{} },
	ActionApplyTemplate:         func() Action { return &ApplyTemplateAction{} },
	ActionGenerateRoad:          func() Action { return &GenerateRoadAction{} },
	ActionPlaceStructureCluster: func() Action { return &PlaceStructureClusterAction{} },
	ActionModifyTerrain:         func() Action { return &ModifyTerrainAction{} },
	ActionSpawnResource:         func() Action { return &SpawnResourceAction{} },
	ActionSetBiome:              func() Action { return &SetBiomeAction{} },
	ActionCreateWaterFeature:    func() Action { return &CreateWaterFeatureAction{} },
	ActionApplyNoise:            func() Action { return &ApplyNoiseAction{} },
}

// AnyAction carries an Action through YAML. It is adjacently tagged: the
// variant name is under "type" and its fields under "params".
type AnyAction struct {
	Action
}

// Act wraps a for use in a Rule.
func Act(a Action) AnyAction {
	return AnyAction{Action: a}
}

func (a *AnyAction) UnmarshalYAML(node *yaml.Node) error {
	var envelope struct {
		Type   ActionType `yaml:"type"`
		Params yaml.Node  `yaml:"params"`
	}
	if err := decodeStrict(node, &envelope); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	factory, ok := actionFactories[envelope.Type]
	if !ok {
		return fmt.Errorf("%w %q (line %d)", ErrUnknownAction, envelope.Type, node.Line)
	}
	if envelope.Params.Kind != yaml.MappingNode {
		return fmt.Errorf("action %s (line %d): params must be a mapping", envelope.Type, node.Line)
	}
	act := factory()
	if err := decodeStrict(&envelope.Params, act); err != nil {
		return fmt.Errorf("action %s: %w", envelope.Type, err)
	}
	a.Action = act
	return nil
}

func (a AnyAction) MarshalYAML() (any, error) {
	if a.Action == nil {
		return nil, errors.New("action: nil variant")
	}
	var params yaml.Node
	if err := params.Encode(a.Action); err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ActionType(), err)
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
		Content: []*yaml.Node{
			scalar("type"), scalar(string(a.ActionType())),
			scalar("params"), &params,
		},
	}, nil
}
