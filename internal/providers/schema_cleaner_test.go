package providers

import "testing"

func child(t *testing.T, m map[string]interface{}, key string) map[string]interface{} {
	t.Helper()
	c, ok := m[key].(map[string]interface{})
	if !ok {
		t.Fatalf("key %q is not a map: %#v", key, m[key])
	}
	return c
}

func assertKeys(t *testing.T, m map[string]interface{}, present, absent []string) {
	t.Helper()
	for _, k := range present {
		if _, ok := m[k]; !ok {
			t.Errorf("key %q missing, want it kept", k)
		}
	}
	for _, k := range absent {
		if _, ok := m[k]; ok {
			t.Errorf("key %q present, want it scrubbed", k)
		}
	}
}

func TestCleanToolSchemasGemini(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "test",
			Description: "desc",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "default": "world"},
				},
				"$defs":                map[string]interface{}{"Foo": "bar"},
				"additionalProperties": false,
				"examples":             []interface{}{"a"},
			},
		},
	}}

	cleaned := CleanToolSchemas("gemini", tools)
	if len(cleaned) != 1 {
		t.Fatalf("got %d tools, want 1", len(cleaned))
	}
	params := cleaned[0].Function.Parameters
	assertKeys(t, params, []string{"type"}, []string{"$defs", "additionalProperties", "examples"})
	name := child(t, child(t, params, "properties"), "name")
	assertKeys(t, name, []string{"type"}, []string{"default"})

	// The input must not be mutated; other providers reuse the same defs.
	if _, ok := tools[0].Function.Parameters["$defs"]; !ok {
		t.Error("CleanToolSchemas mutated its input")
	}
}

func TestCleanSchemaAnthropicKeepsNonRefKeys(t *testing.T) {
	params := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "$ref": "#/$defs/URL"},
		},
		"$defs":                map[string]interface{}{"URL": "..."},
		"additionalProperties": false,
		"default":              "x",
	}

	cleaned := CleanSchemaForProvider("anthropic", params)
	assertKeys(t, cleaned, []string{"additionalProperties", "default"}, []string{"$defs"})
	url := child(t, child(t, cleaned, "properties"), "url")
	assertKeys(t, url, []string{"type"}, []string{"$ref"})
}

func TestCleanSchemaGeminiModelPrefix(t *testing.T) {
	params := map[string]interface{}{"type": "object", "$defs": map[string]interface{}{}}
	cleaned := CleanSchemaForProvider("gemini-2.0-flash", params)
	assertKeys(t, cleaned, []string{"type"}, []string{"$defs"})
}

func TestCleanSchemaUnknownProviderPassthrough(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:       "test",
			Parameters: map[string]interface{}{"$ref": "something", "default": "val"},
		},
	}}
	cleaned := CleanToolSchemas("openrouter", tools)
	assertKeys(t, cleaned[0].Function.Parameters, []string{"$ref", "default"}, nil)
}

func TestCleanSchemaNilInputs(t *testing.T) {
	if got := CleanToolSchemas("gemini", nil); got != nil {
		t.Errorf("nil tools: got %v", got)
	}
	if got := CleanSchemaForProvider("gemini", nil); got != nil {
		t.Errorf("nil params: got %v", got)
	}
}

func TestCleanSchemaRecursesIntoArrays(t *testing.T) {
	params := map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "string", "default": "x"},
			map[string]interface{}{"type": "number", "$ref": "#/defs/Num", "default": 42},
		},
	}

	anyOf := CleanSchemaForProvider("gemini", params)["anyOf"].([]interface{})
	if len(anyOf) != 2 {
		t.Fatalf("got %d branches, want 2", len(anyOf))
	}
	assertKeys(t, anyOf[0].(map[string]interface{}), []string{"type"}, []string{"default"})
	assertKeys(t, anyOf[1].(map[string]interface{}), []string{"type"}, []string{"$ref", "default"})
}

func TestCleanSchemaDeepNesting(t *testing.T) {
	params := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"config": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"nested": map[string]interface{}{"type": "string", "default": "deep", "$ref": "#/deep"},
				},
			},
		},
	}

	cleaned := CleanSchemaForProvider("gemini", params)
	nested := child(t, child(t, child(t, child(t, cleaned, "properties"), "config"), "properties"), "nested")
	assertKeys(t, nested, []string{"type"}, []string{"default", "$ref"})
}
