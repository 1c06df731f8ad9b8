package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

// Registry holds the tool set for one agent run. Lookup is by name;
// Schemas preserves registration order so the LLM sees tools in the
// order they were added.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from the given tools. Registration
// errors (duplicate or empty names) are returned eagerly.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. The name must be unique and non-empty.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Schemas returns the tool descriptions in registration order, in the
// shape the LLM adapters consume.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return schemas
}

// Dispatch executes one tool call and always returns a ToolResult;
// failures never propagate as errors or panics. An unknown name, a
// schema violation, and a panicking tool all become failed results so
// the loop can continue and the LLM can correct course.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	t, ok := r.Get(call.Name)
	if !ok {
		return models.FailedResult("Unknown tool: " + call.Name)
	}

	if err := validateArgs(t.Schema(), call.Args); err != nil {
		return models.FailedResult(fmt.Sprintf("%s: invalid arguments: %v", call.Name, err))
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = models.FailedResult(fmt.Sprintf("%s: %v\n\n%s", call.Name, rec, debug.Stack()))
		}
	}()

	return t.Execute(ctx, call.Args)
}

var schemaCache sync.Map

func validateArgs(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// Round-trip through JSON so typed values (ints, structs) compare
	// the way the validator expects.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return compiled.Validate(decoded)
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
