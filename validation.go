package modreg

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Validation codes. Errors block a transition, warnings never do.
const (
	CodeEmptyKey             = "empty_key"
	CodeDuplicateKey         = "duplicate_key"
	CodeInvalidVersion       = "invalid_version"
	CodeNoCapabilities       = "no_capabilities"
	CodeEmptyCapability      = "empty_capability"
	CodeDuplicateCapability  = "duplicate_capability"
	CodeSelfDependency       = "self_dependency"
	CodeEmptyDependency      = "empty_dependency"
	CodeDuplicateDependency  = "duplicate_dependency"
	CodeMissingDependency    = "missing_dependency"
	CodeDependencyCycle      = "dependency_cycle"
	CodeSchemaFieldName      = "schema_field_name"
	CodeDuplicateSchemaField = "duplicate_schema_field"
	CodeUnknownFieldType     = "unknown_field_type"
	CodeInvalidDefault       = "invalid_default"
	CodeContractViolation    = "contract_violation"
	CodeUncontracted         = "uncontracted_capability"
	CodeCapabilityProvided   = "capability_already_provided"
	CodeUnknownField         = "unknown_field"
	CodeRequiredField        = "required_field_missing"
	CodeTypeMismatch         = "type_mismatch"
	CodeConfigRejected       = "config_rejected"
)

// ValidationError is a blocking validation finding.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationWarning is a non-blocking validation finding.
type ValidationWarning struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult collects the outcome of one validation pass.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() ValidationResult {
	return ValidationResult{Valid: true}
}

// AddError records a blocking finding and marks the result invalid.
func (r *ValidationResult) AddError(code, field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	r.Valid = false
}

// AddWarning records a non-blocking finding.
func (r *ValidationResult) AddWarning(code, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge appends other's findings.
func (r *ValidationResult) Merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Valid = len(r.Errors) == 0
}

// HasCode reports whether any error or warning carries code.
func (r ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Validator checks manifests, dependency sets and configurations.
type Validator struct {
	contracts *contractSet
}

// ValidateManifest runs the structural checks plus contract conformance for
// the capabilities that have a registered contract.
func (v *Validator) ValidateManifest(m Manifest, impl Module) ValidationResult {
	res := NewValidationResult()

	if strings.TrimSpace(m.Key) == "" {
		res.AddError(CodeEmptyKey, "key", "manifest key must not be empty")
	}
	if !validVersion(m.Version) {
		res.AddError(CodeInvalidVersion, "version", "version %q is not a semantic version", m.Version)
	}

	if len(m.Capabilities) == 0 {
		res.AddError(CodeNoCapabilities, "capabilities", "at least one capability must be declared")
	}
	seenCaps := make(map[string]bool, len(m.Capabilities))
	for _, c := range m.Capabilities {
		switch {
		case strings.TrimSpace(c) == "":
			res.AddError(CodeEmptyCapability, "capabilities", "capability name must not be empty")
		case seenCaps[c]:
			res.AddWarning(CodeDuplicateCapability, "capabilities", "capability %q declared more than once", c)
		default:
			seenCaps[c] = true
			v.checkContract(&res, c, impl)
		}
	}

	seenDeps := make(map[string]bool, len(m.Dependencies))
	for _, d := range m.Dependencies {
		switch {
		case strings.TrimSpace(d) == "":
			res.AddError(CodeEmptyDependency, "dependencies", "dependency key must not be empty")
		case d == m.Key:
			res.AddError(CodeSelfDependency, "dependencies", "module %q depends on itself", d)
		case seenDeps[d]:
			res.AddWarning(CodeDuplicateDependency, "dependencies", "dependency %q declared more than once", d)
		default:
			seenDeps[d] = true
		}
	}

	res.Merge(v.ValidateSchema(m.ConfigSchema))
	return res
}

func (v *Validator) checkContract(res *ValidationResult, capability string, impl Module) {
	if v.contracts == nil {
		return
	}
	contract, ok := v.contracts.get(capability)
	if !ok {
		res.AddWarning(CodeUncontracted, "capabilities", "no contract registered for capability %q", capability)
		return
	}
	if impl == nil {
		return
	}
	if missing := contract.Missing(implementationFor(impl, capability)); len(missing) > 0 {
		res.AddError(CodeContractViolation, "capabilities",
			"implementation does not satisfy %q: missing %s", capability, strings.Join(missing, ", "))
	}
}

// ValidateSchema checks that a config schema is internally consistent.
func (v *Validator) ValidateSchema(s ConfigSchema) ValidationResult {
	res := NewValidationResult()
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			res.AddError(CodeSchemaFieldName, fmt.Sprintf("configSchema.fields[%d]", i), "field name must not be empty")
			continue
		}
		if seen[f.Name] {
			res.AddError(CodeDuplicateSchemaField, f.Name, "field %q declared more than once", f.Name)
			continue
		}
		seen[f.Name] = true
		if !knownFieldTypes[f.Type] {
			res.AddError(CodeUnknownFieldType, f.Name, "unknown field type %q", f.Type)
			continue
		}
		if f.Default != nil && !matchesType(f.Type, f.Default) {
			res.AddError(CodeInvalidDefault, f.Name, "default %v is not a %s", f.Default, f.Type)
		}
	}
	return res
}

// ValidateDependencies checks that every dependency exists. When strict is
// false missing dependencies are warnings, which is how registration treats
// modules registered ahead of their dependencies.
func (v *Validator) ValidateDependencies(m Manifest, exists func(key string) bool, strict bool) ValidationResult {
	res := NewValidationResult()
	for _, d := range m.Dependencies {
		if d == "" || d == m.Key || exists(d) {
			continue
		}
		if strict {
			res.AddError(CodeMissingDependency, "dependencies", "dependency %q is not registered", d)
		} else {
			res.AddWarning(CodeMissingDependency, "dependencies", "dependency %q is not registered yet", d)
		}
	}
	return res
}

// ValidateConfig checks cfg against schema. Unknown keys are warnings;
// missing required fields and type mismatches are errors. Fields are
// reported in ascending name order.
func (v *Validator) ValidateConfig(s ConfigSchema, cfg Config) ValidationResult {
	res := NewValidationResult()

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := s.Field(k)
		if !ok {
			res.AddWarning(CodeUnknownField, k, "field %q is not part of the schema and will be ignored", k)
			continue
		}
		val := cfg[k]
		if val == nil {
			continue
		}
		if !matchesType(f.Type, val) {
			res.AddError(CodeTypeMismatch, k, "expected %s, got %T", f.Type, val)
		}
	}

	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if val, ok := cfg[f.Name]; !ok || val == nil {
			if f.Default == nil {
				res.AddError(CodeRequiredField, f.Name, "required field %q is missing", f.Name)
			}
		}
	}
	return res
}

// matchesType reports whether val is acceptable for a field of type ft.
// Integral floats count as ints because JSON decodes every number as float64.
func matchesType(ft FieldType, val any) bool {
	rv := reflect.ValueOf(val)
	switch ft {
	case FieldAny:
		return true
	case FieldString:
		return rv.Kind() == reflect.String
	case FieldBool:
		return rv.Kind() == reflect.Bool
	case FieldInt:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			return f == math.Trunc(f) && !math.IsInf(f, 0)
		}
		return false
	case FieldFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
		return false
	case FieldDuration:
		switch d := val.(type) {
		case time.Duration:
			return true
		case string:
			_, err := time.ParseDuration(d)
			return err == nil
		}
		return false
	case FieldStringList:
		switch l := val.(type) {
		case []string:
			return true
		case []any:
			for _, item := range l {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	case FieldMap:
		return rv.Kind() == reflect.Map
	}
	return false
}

// validVersion accepts MAJOR.MINOR.PATCH with optional pre-release and build
// suffixes. Shorthand forms like "1.2" are rejected.
func validVersion(v string) bool {
	if v == "" || !semver.IsValid("v"+v) {
		return false
	}
	core := v
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	return strings.Count(core, ".") == 2
}
