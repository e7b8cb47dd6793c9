package toolexecutor

import (
	"context"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. Returning a *ToolError
// sets the error kind explicitly; other errors are classified by Classify.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

type registeredTool struct {
	def    ToolDefinition
	schema *gojsonschema.Schema
}

// RegisterTool registers a tool, replacing any tool with the same name.
func (inv *Invoker) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.tools[def.Name] = &registeredTool{def: def, schema: schema}

	inv.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (inv *Invoker) UnregisterTool(name string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	delete(inv.tools, name)
	delete(inv.limiters, name)

	inv.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// GetTool returns a tool definition by name
func (inv *Invoker) GetTool(name string) (ToolDefinition, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	tool, ok := inv.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return tool.def, true
}

// ListTools returns all registered tool names, sorted.
func (inv *Invoker) ListTools() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	tools := make([]string, 0, len(inv.tools))
	for name := range inv.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

func (inv *Invoker) lookup(name string) *registeredTool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.tools[name]
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Parameters))
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}

	required := []string{}
	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
