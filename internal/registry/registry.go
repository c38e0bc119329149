// Package registry holds the catalog of tools the MCP server exposes and the
// engine dispatches against: name, description, argument schema, and the Go
// function that actually runs it, all bound together so a tool can never be
// invoked without its schema being enforced first (spec.md §4.2).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Handler executes one tool call against already-validated arguments and
// returns the raw result payload to be wrapped into the MCP envelope.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolSpec is one registered tool: its wire metadata plus the handler that
// implements it.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler

	// Destructive marks tools the MCP client must gate behind an explicit
	// confirmation before dispatching (spec.md §4.4): delete_requirement,
	// delete_label, and delete_user_document.
	Destructive bool

	compiled *jsonschema.Schema
}

// Describe is the subset of ToolSpec advertised over /mcp/schema.
type Describe struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"arguments_schema,omitempty"`
}

// Registry is a thread-safe catalog of tools, keyed by name. Tools are
// registered once at startup; lookups and invocations happen concurrently
// from request-handling goroutines.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolSpec
}

// New returns an empty registry ready for Register calls.
func New() *Registry {
	return &Registry{tools: make(map[string]*ToolSpec)}
}

// Register compiles spec.Schema and adds it to the catalog. It panics on a
// duplicate name or an uncompilable schema: both are programmer errors
// caught at process startup, not runtime conditions to recover from.
func (r *Registry) Register(spec ToolSpec) {
	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		panic(fmt.Sprintf("registry: tool %q has an invalid schema: %v", spec.Name, err))
	}
	spec.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate tool registered: %s", spec.Name))
	}
	if r.tools == nil {
		r.tools = make(map[string]*ToolSpec)
	}
	r.tools[spec.Name] = &spec
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (*ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// Names returns the registered tool names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Describe returns the wire-schema catalog for /mcp/schema, sorted by name
// so the response is stable across process restarts.
func (r *Registry) Describe() []Describe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Describe, 0, len(r.tools))
	for _, spec := range r.tools {
		out = append(out, Describe{
			Name:        spec.Name,
			Description: spec.Description,
			ArgsSchema:  spec.Schema,
		})
	}
	sortDescribe(out)
	return out
}

func sortDescribe(entries []Describe) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Name < entries[j-1].Name; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Invoke validates raw arguments against the tool's schema with
// additionalProperties:false enforced, then runs its handler. A schema
// violation is reported as contract.ErrValidation without ever reaching the
// handler (spec.md §8 property: unknown arguments are rejected before
// dispatch).
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (any, error) {
	spec, ok := r.Get(name)
	if !ok {
		return nil, &contract.Error{
			Code:    contract.ErrNotFound,
			Message: fmt.Sprintf("unknown tool: %s", name),
		}
	}

	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(rawArgs, &decoded); err != nil {
		return nil, &contract.Error{
			Code:    contract.ErrValidation,
			Message: fmt.Sprintf("tool %s: arguments are not valid JSON: %v", name, err),
		}
	}
	if err := spec.compiled.Validate(decoded); err != nil {
		return nil, &contract.Error{
			Code:    contract.ErrValidation,
			Message: fmt.Sprintf("tool %s: arguments failed schema validation", name),
			Details: map[string]any{"schema_error": err.Error()},
		}
	}

	result, err := spec.Handler(ctx, rawArgs)
	if err != nil {
		return nil, asContractError(err)
	}
	return result, nil
}

// asContractError normalizes a handler error into the envelope's taxonomy,
// defaulting unclassified errors to INTERNAL rather than leaking raw Go
// error text as if it were a client-facing category.
func asContractError(err error) *contract.Error {
	var ce *contract.Error
	if e, ok := err.(*contract.Error); ok {
		ce = e
		return ce
	}
	return &contract.Error{Code: contract.ErrInternal, Message: err.Error()}
}

var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
