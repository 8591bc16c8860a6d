package providers

import "strings"

// Some backends reject JSON Schema keywords in tool definitions. Gemini
// refuses $ref/$defs/additionalProperties/examples/default outright;
// Anthropic ignores everything except the $ref machinery, which it cannot
// resolve.
var unsupportedSchemaKeys = map[string][]string{
	"gemini":    {"$ref", "$defs", "additionalProperties", "examples", "default"},
	"anthropic": {"$ref", "$defs"},
}

// CleanToolSchemas returns tool definitions with schema keywords the named
// provider rejects removed. Providers without a deny set get the input
// slice back untouched.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	drop := schemaDenySet(providerName)
	if drop == nil || len(tools) == 0 {
		return tools
	}

	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = t
		out[i].Function.Parameters = scrubSchemaMap(t.Function.Parameters, drop)
	}
	return out
}

// CleanSchemaForProvider scrubs a single parameters map.
func CleanSchemaForProvider(providerName string, params map[string]interface{}) map[string]interface{} {
	drop := schemaDenySet(providerName)
	if drop == nil {
		return params
	}
	return scrubSchemaMap(params, drop)
}

func schemaDenySet(name string) map[string]struct{} {
	keys, ok := unsupportedSchemaKeys[name]
	if !ok && strings.HasPrefix(name, "gemini-") {
		keys = unsupportedSchemaKeys["gemini"]
	}
	if keys == nil {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// scrubSchemaMap deep-copies schema, dropping denied keys at every level.
// Arrays recurse too, for anyOf/oneOf/allOf branches.
func scrubSchemaMap(schema map[string]interface{}, drop map[string]struct{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if _, denied := drop[k]; denied {
			continue
		}
		out[k] = scrubSchemaValue(v, drop)
	}
	return out
}

func scrubSchemaValue(v interface{}, drop map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return scrubSchemaMap(val, drop)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = scrubSchemaValue(item, drop)
		}
		return out
	default:
		return v
	}
}
