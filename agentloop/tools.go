package agentloop

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]AgentTool
	mu    sync.RWMutex
}

// NewToolRegistry creates a ToolRegistry holding tools.
func NewToolRegistry(tools ...AgentTool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]AgentTool)}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return r
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool AgentTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name.
func (r *ToolRegistry) Get(name string) (AgentTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the names of all registered tools, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the registered tools sorted by name, ready for
// Agent.SetTools.
func (r *ToolRegistry) Tools() []AgentTool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]AgentTool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// MergeFrom copies all tools from other into this registry.
// Existing tools with the same name are overwritten (latest-wins).
func (r *ToolRegistry) MergeFrom(other *ToolRegistry) {
	for _, t := range other.Tools() {
		r.Register(t)
	}
}

// SchemaFor builds a JSON Schema parameter object from the struct type T,
// honoring json and jsonschema struct tags.
func SchemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	raw, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("failed to decode schema for type %T: %v", zero, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// DecodeArgs converts tool call arguments into T.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return out, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
