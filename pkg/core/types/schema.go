package types

// JSONSchema is a minimal JSON-schema value used for tool parameter
// declarations. Field names and nesting are part of the wire contract.
type JSONSchema struct {
	Type        string                `json:"type,omitempty"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty"`
	Enum        []string              `json:"enum,omitempty"`
}

// ObjectSchema builds an object schema from properties and required names.
func ObjectSchema(properties map[string]JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// StringSchema builds a string schema with an optional enum constraint.
func StringSchema(description string, enum ...string) JSONSchema {
	return JSONSchema{
		Type:        "string",
		Description: description,
		Enum:        enum,
	}
}
