package modreg

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Operation is one method signature required by a capability contract.
type Operation struct {
	Name      string       `json:"name"`
	Signature string       `json:"signature"`
	fnType    reflect.Type // method type without receiver
}

// CapabilityContract is a named, versioned behavioral interface. A module
// declaring the capability must expose every operation.
type CapabilityContract struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Operations []Operation `json:"operations"`
	iface      reflect.Type
}

// NewContract builds a contract from the interface type T.
//
//	type ThemeProvider interface { Theme(name string) (Tokens, bool) }
//	contract := modreg.NewContract[ThemeProvider]("theme-provider", "1.0.0")
func NewContract[T any](name, version string) CapabilityContract {
	iface := reflect.TypeOf((*T)(nil)).Elem()
	c := CapabilityContract{Name: name, Version: version, iface: iface}
	if iface.Kind() != reflect.Interface {
		return c
	}
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		c.Operations = append(c.Operations, Operation{
			Name:      m.Name,
			Signature: m.Type.String(),
			fnType:    m.Type,
		})
	}
	return c
}

// Interface returns the Go interface type the contract was built from.
func (c CapabilityContract) Interface() reflect.Type { return c.iface }

// Missing returns the operations impl does not expose with a matching
// signature, formatted as "Name func(...)".
func (c CapabilityContract) Missing(impl any) []string {
	if impl == nil {
		out := make([]string, 0, len(c.Operations))
		for _, op := range c.Operations {
			out = append(out, op.Name+" "+op.Signature)
		}
		return out
	}
	t := reflect.TypeOf(impl)
	var missing []string
	for _, op := range c.Operations {
		m, ok := t.MethodByName(op.Name)
		if !ok || !sameSignature(m.Type, op.fnType) {
			missing = append(missing, op.Name+" "+op.Signature)
		}
	}
	return missing
}

// Satisfied reports whether impl fulfills the contract.
func (c CapabilityContract) Satisfied(impl any) bool {
	return len(c.Missing(impl)) == 0
}

// sameSignature compares a concrete method type (receiver first) with an
// interface method type (no receiver).
func sameSignature(method, want reflect.Type) bool {
	if method.NumIn()-1 != want.NumIn() || method.NumOut() != want.NumOut() {
		return false
	}
	if method.IsVariadic() != want.IsVariadic() {
		return false
	}
	for i := 0; i < want.NumIn(); i++ {
		if method.In(i+1) != want.In(i) {
			return false
		}
	}
	for i := 0; i < want.NumOut(); i++ {
		if method.Out(i) != want.Out(i) {
			return false
		}
	}
	return true
}

// contractSet is the registry's catalogue of capability contracts.
type contractSet struct {
	mu        sync.RWMutex
	contracts map[string]CapabilityContract
}

func newContractSet() *contractSet {
	return &contractSet{contracts: make(map[string]CapabilityContract)}
}

func (s *contractSet) add(c CapabilityContract) error {
	if c.Name == "" {
		return fmt.Errorf("capability contract: %w", errEmptyContractName)
	}
	if c.iface == nil || c.iface.Kind() != reflect.Interface {
		return fmt.Errorf("capability contract %q: %w", c.Name, errContractNotInterface)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contracts[c.Name]; exists {
		return fmt.Errorf("capability contract %q: %w", c.Name, errContractExists)
	}
	s.contracts[c.Name] = c
	return nil
}

func (s *contractSet) get(name string) (CapabilityContract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[name]
	return c, ok
}

func (s *contractSet) list() []CapabilityContract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CapabilityContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
