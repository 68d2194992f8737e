package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modreg"
)

// EnvPrefix starts every module override variable.
const EnvPrefix = "MODREG"

// LookupFunc looks up an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Override is one environment value applied over the file.
type Override struct {
	Module string `json:"module"`
	Field  string `json:"field"`
	EnvVar string `json:"env_var"`
}

// EnvVarName returns the variable that overrides field of module, e.g.
// MODREG_DELIVERY_MAX_TEMPERATURE_C.
func EnvVarName(module, field string) string {
	return EnvPrefix + "_" + envToken(module) + "_" + envToken(field)
}

func envToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ModuleConfig returns the configuration for module: its file section with
// any environment overrides for schema fields applied on top. Overrides are
// converted to the field type so schema validation sees typed values.
// lookup defaults to os.LookupEnv.
func (f *File) ModuleConfig(module string, schema modreg.ConfigSchema, lookup LookupFunc) (modreg.Config, []Override, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := modreg.Config{}
	for k, v := range f.Modules[module] {
		cfg[k] = v
	}

	var overrides []Override
	for _, field := range schema.Fields {
		name := EnvVarName(module, field.Name)
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		v, err := convertEnv(raw, field.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		cfg[field.Name] = v
		overrides = append(overrides, Override{Module: module, Field: field.Name, EnvVar: name})
	}
	return cfg, overrides, nil
}

var (
	intType   = reflect.TypeOf(int(0))
	floatType = reflect.TypeOf(float64(0))
	boolType  = reflect.TypeOf(false)
)

func convertEnv(raw string, ft modreg.FieldType) (any, error) {
	switch ft {
	case modreg.FieldInt:
		return cast.FromType(raw, intType)
	case modreg.FieldFloat:
		return cast.FromType(raw, floatType)
	case modreg.FieldBool:
		return cast.FromType(raw, boolType)
	case modreg.FieldStringList:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	case modreg.FieldMap:
		m := map[string]any{}
		if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("cannot convert value to map: %w", err)
		}
		return m, nil
	case modreg.FieldAny:
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return raw, nil
		}
		return v, nil
	default:
		// Strings and duration strings pass through; the validator checks
		// durations.
		return raw, nil
	}
}
