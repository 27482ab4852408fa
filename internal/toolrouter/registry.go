package toolrouter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// SchemaRegistry holds the authoritative, versioned declaration of every
// tool the Tool Router may dispatch, compiling each tool's args schema
// once at registration following pkg/pluginsdk.compileSchema's
// compile-once-cache pattern, generalized from plugin config schemas to
// tool-call argument schemas. Exactly one schema version is active per
// tool at a time, per spec.md §6.
type SchemaRegistry struct {
	mu      sync.RWMutex
	tools   map[string]model.ToolSchema
	compiled map[string]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		tools:    make(map[string]model.ToolSchema),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles schema.ArgsSchema and adds it to the registry,
// replacing any prior version of the same tool name. additionalProperties
// must be false-enforced by the schema itself; Register does not inject
// it, since the corpus's own schemas declare it explicitly (see DESIGN.md).
func (r *SchemaRegistry) Register(schema model.ToolSchema) error {
	compiler := jsonschema.NewCompiler()
	name := fmt.Sprintf("tool://%s", schema.Name)
	if err := compiler.AddResource(name, strings.NewReader(string(schema.ArgsSchema))); err != nil {
		return fmt.Errorf("toolrouter: add schema resource for %s: %w", schema.Name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("toolrouter: compile schema for %s: %w", schema.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(schema.Name)] = schema
	r.compiled[strings.ToLower(schema.Name)] = compiled
	return nil
}

// Get returns the registered ToolSchema for name.
func (r *SchemaRegistry) Get(name string) (model.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tools[strings.ToLower(name)]
	return s, ok
}

// Validate checks args against tool's compiled schema, surfacing a
// CoreError{Code: CodeValidation} on any mismatch, including unknown
// properties (enforced by the schema's additionalProperties:false).
func (r *SchemaRegistry) Validate(tool string, args map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.compiled[strings.ToLower(tool)]
	r.mu.RUnlock()
	if !ok {
		return model.NewError(model.CodeValidation, fmt.Sprintf("unknown tool %q", tool), nil)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return model.NewError(model.CodeValidation, "cannot encode tool args", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return model.NewError(model.CodeValidation, "cannot decode tool args", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return model.NewError(model.CodeValidation, fmt.Sprintf("args for %s do not match schema: %v", tool, err), err)
	}
	return nil
}
