package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/coinchat/backend/internal/model/market"
	"github.com/coinchat/backend/internal/model/ui"
)

var (
	ErrSchemaValidation = errors.New("tool arguments failed validation")
	ErrUnknownTool      = fmt.Errorf("%w: unknown tool", ErrSchemaValidation)
)

// SchemaValidationError lists every violation found in one set of arguments.
type SchemaValidationError struct {
	Tool   string
	Fields []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s arguments invalid: %s", e.Tool, strings.Join(e.Fields, "; "))
}

func (e *SchemaValidationError) Is(target error) bool { return target == ErrSchemaValidation }

// Gateway is the market data the tool handlers need.
type Gateway interface {
	GetSnapshot(ctx context.Context, ids []string, currency string) ([]market.Snapshot, error)
	GetHistoricalSeries(ctx context.Context, id, currency string, days int) (market.Series, error)
}

// Invocation is a validated tool call. Args holds every declared parameter,
// with defaults applied.
type Invocation struct {
	ID   string
	Tool ToolID
	Name string
	Args map[string]any
}

// String returns a string argument.
func (inv Invocation) String(name string) string {
	value, _ := inv.Args[name].(string)
	return value
}

// Int returns an integer argument.
func (inv Invocation) Int(name string) int {
	value, _ := inv.Args[name].(int)
	return value
}

type entry struct {
	descriptor Descriptor
	schema     *gojsonschema.Schema
}

// Registry is the read-only table of tools offered to the model.
type Registry struct {
	gateway  Gateway
	currency string
	entries  map[string]entry
	order    []string
}

// NewRegistry builds the registry with the built-in market tools.
func NewRegistry(gateway Gateway, currency string) (*Registry, error) {
	return newRegistry(gateway, currency, Builtin())
}

func newRegistry(gateway Gateway, currency string, descriptors []Descriptor) (*Registry, error) {
	if gateway == nil {
		return nil, errors.New("tools: gateway is nil")
	}

	r := &Registry{
		gateway:  gateway,
		currency: currency,
		entries:  make(map[string]entry, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := d.check(); err != nil {
			return nil, err
		}
		if _, exists := r.entries[d.Name]; exists {
			return nil, fmt.Errorf("tool %s already registered", d.Name)
		}

		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.JSONSchema()))
		if err != nil {
			return nil, fmt.Errorf("tool %s: compile schema: %w", d.Name, err)
		}
		r.entries[d.Name] = entry{descriptor: d, schema: compiled}
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Descriptors lists the registered tools in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].descriptor)
	}
	return out
}

// Lookup finds a descriptor by its model-facing name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.entries[name]
	return e.descriptor, ok
}

// Infos exports the tools for binding to an eino chat model.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.entries[name].descriptor.ToolInfo())
	}
	return infos
}

// Validate checks raw model arguments against the named tool's schema and
// returns the normalized invocation. Missing optional fields get their
// declared default; nothing else is coerced.
func (r *Registry) Validate(name, rawArgs string) (Invocation, error) {
	e, ok := r.entries[name]
	if !ok {
		return Invocation{}, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}

	raw := strings.TrimSpace(rawArgs)
	if raw == "" {
		raw = "{}"
	}

	result, err := e.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return Invocation{}, &SchemaValidationError{Tool: name, Fields: []string{"malformed json: " + err.Error()}}
	}
	if !result.Valid() {
		fields := make([]string, 0, len(result.Errors()))
		for _, violation := range result.Errors() {
			fields = append(fields, violation.String())
		}
		sort.Strings(fields)
		return Invocation{}, &SchemaValidationError{Tool: name, Fields: fields}
	}

	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		return Invocation{}, &SchemaValidationError{Tool: name, Fields: []string{"malformed json: " + err.Error()}}
	}

	args, err := e.descriptor.normalize(decoded)
	if err != nil {
		return Invocation{}, &SchemaValidationError{Tool: name, Fields: []string{err.Error()}}
	}

	return Invocation{Tool: e.descriptor.ID, Name: name, Args: args}, nil
}

// Summarize returns the placeholder recorded as the tool result in history.
func (r *Registry) Summarize(inv Invocation) string {
	e, ok := r.entries[inv.Name]
	if !ok || e.descriptor.Summary == nil {
		return fmt.Sprintf("the result of %s is currently displayed on the screen", inv.Name)
	}
	return e.descriptor.Summary(inv)
}

// Execute runs a validated invocation and returns its rendered fragment.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (ui.Fragment, error) {
	e, ok := r.entries[inv.Name]
	if !ok {
		return ui.Fragment{}, fmt.Errorf("%w %q", ErrUnknownTool, inv.Name)
	}
	return e.descriptor.Handler(ctx, Env{Gateway: r.gateway, Currency: r.currency}, inv)
}
