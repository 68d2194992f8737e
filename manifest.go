package modreg

import "slices"

// Manifest is the static identity, capability and dependency declaration of
// a module.
type Manifest struct {
	// Key is the process-unique identifier, e.g. "auth".
	Key string `json:"key" yaml:"key"`

	// Version is a semantic version ("1.4.0", "2.0.0-rc.1").
	Version string `json:"version" yaml:"version"`

	// Capabilities lists the capability names this module fulfills.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// Dependencies lists module keys that must be Active before this module
	// may activate. Order is preserved for reporting.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// ConfigSchema describes the accepted configuration keys.
	ConfigSchema ConfigSchema `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`
}

// clone returns a deep copy so the registry owns its manifest.
func (m Manifest) clone() Manifest {
	out := m
	out.Capabilities = slices.Clone(m.Capabilities)
	out.Dependencies = slices.Clone(m.Dependencies)
	out.ConfigSchema.Fields = slices.Clone(m.ConfigSchema.Fields)
	return out
}

// DependsOn reports whether key is a declared dependency.
func (m Manifest) DependsOn(key string) bool {
	return slices.Contains(m.Dependencies, key)
}

// Provides reports whether capability is declared.
func (m Manifest) Provides(capability string) bool {
	return slices.Contains(m.Capabilities, capability)
}

// FieldType is the value type accepted for a configuration field.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldInt        FieldType = "int"
	FieldFloat      FieldType = "float"
	FieldBool       FieldType = "bool"
	FieldDuration   FieldType = "duration"
	FieldStringList FieldType = "[]string"
	FieldMap        FieldType = "map"
	FieldAny        FieldType = "any"
)

var knownFieldTypes = map[FieldType]bool{
	FieldString: true, FieldInt: true, FieldFloat: true, FieldBool: true,
	FieldDuration: true, FieldStringList: true, FieldMap: true, FieldAny: true,
}

// FieldSpec describes one configuration key.
type FieldSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// ConfigSchema is the set of configuration fields a module accepts.
type ConfigSchema struct {
	Fields []FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field looks up a field by name.
func (s ConfigSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ApplyDefaults returns a copy of cfg with defaults filled in for absent
// fields that declare one.
func (s ConfigSchema) ApplyDefaults(cfg Config) Config {
	out := make(Config, len(cfg)+len(s.Fields))
	for k, v := range cfg {
		out[k] = v
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; !ok && f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}
