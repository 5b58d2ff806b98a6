package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cloudwego/eino/schema"

	"github.com/coinchat/backend/internal/model/ui"
)

// ToolID enumerates the closed set of tools.
type ToolID int

const (
	HistoricalChart ToolID = iota + 1
	ComparePrices
	GetPrice
	Overview
)

func (id ToolID) String() string {
	switch id {
	case HistoricalChart:
		return "historicalChart"
	case ComparePrices:
		return "comparePrices"
	case GetPrice:
		return "getPrice"
	case Overview:
		return "overview"
	default:
		return fmt.Sprintf("ToolID(%d)", int(id))
	}
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
)

// Param declares one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Default is applied when an optional argument is missing. Its Go type must
	// match Type: string, int or float64.
	Default any
	// Minimum bounds numeric parameters when non-nil.
	Minimum *float64
}

// Env is what a handler may use while executing.
type Env struct {
	Gateway  Gateway
	Currency string
}

// Handler executes a validated invocation.
type Handler func(ctx context.Context, env Env, inv Invocation) (ui.Fragment, error)

// Descriptor is one row of the tool table.
type Descriptor struct {
	ID          ToolID
	Name        string
	Description string
	Params      []Param
	Handler     Handler
	// Summary renders the human-readable tool result stored in history.
	Summary func(inv Invocation) string
}

func (d Descriptor) check() error {
	if d.Name == "" {
		return errors.New("tool name is empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}

	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %s has an unnamed parameter", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s declares parameter %s twice", d.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeString, TypeInteger, TypeNumber:
		default:
			return fmt.Errorf("tool %s parameter %s has unsupported type %q", d.Name, p.Name, p.Type)
		}

		if p.Default == nil {
			continue
		}
		if p.Required {
			return fmt.Errorf("tool %s parameter %s is required and has a default", d.Name, p.Name)
		}
		if !defaultMatches(p.Type, p.Default) {
			return fmt.Errorf("tool %s parameter %s default %v does not match type %s", d.Name, p.Name, p.Default, p.Type)
		}
	}
	return nil
}

func defaultMatches(t ParamType, value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		_, ok := value.(int)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	}
	return false
}

// JSONSchema renders the parameter list as a draft-07 object schema.
func (d Descriptor) JSONSchema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	required := make([]any, 0, len(d.Params))
	for _, p := range d.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Type == TypeString {
			prop["minLength"] = 1
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// ToolInfo converts the descriptor for eino model binding.
func (d Descriptor) ToolInfo() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(d.Params))
	for _, p := range d.Params {
		params[p.Name] = &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
		}
	}
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func dataType(t ParamType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	default:
		return schema.String
	}
}

// normalize converts schema-valid decoded JSON into typed Go values and fills defaults.
func (d Descriptor) normalize(decoded map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		value, present := decoded[p.Name]
		if !present {
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		switch p.Type {
		case TypeString:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string", p.Name)
			}
			args[p.Name] = s
		case TypeInteger, TypeNumber:
			n, ok := value.(json.Number)
			if !ok {
				return nil, fmt.Errorf("%s: expected %s", p.Name, p.Type)
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name, err)
			}
			if p.Type == TypeNumber {
				args[p.Name] = f
				continue
			}
			if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
				return nil, fmt.Errorf("%s: expected integer", p.Name)
			}
			args[p.Name] = int(f)
		}
	}
	return args, nil
}
