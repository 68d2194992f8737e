package modreg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet(name string) string
	Languages() []string
}

type englishGreeter struct{ *stubModule }

func (englishGreeter) Greet(name string) string { return "hello " + name }
func (englishGreeter) Languages() []string      { return []string{"en"} }

type wrongGreeter struct{ *stubModule }

func (wrongGreeter) Greet(name string, formal bool) string { return name }

// providerModule hands out a dedicated object for its capability.
type providerModule struct {
	*stubModule
	impl greeter
}

func (p providerModule) Provide(capability string) any {
	if capability == "greeter" {
		return p.impl
	}
	return nil
}

func greeterStub(key string) *stubModule {
	s := newStub(key)
	s.manifest.Capabilities = []string{"greeter"}
	return s
}

func TestNewContract(t *testing.T) {
	c := NewContract[greeter]("greeter", "1.0.0")
	assert.Equal(t, "greeter", c.Name)
	require.Len(t, c.Operations, 2)
	assert.Equal(t, "Greet", c.Operations[0].Name)
	assert.Equal(t, "func(string) string", c.Operations[0].Signature)
	assert.Equal(t, "Languages", c.Operations[1].Name)

	assert.True(t, c.Satisfied(englishGreeter{}))
	assert.Equal(t, []string{"Greet func(string) string", "Languages func() []string"}, c.Missing(wrongGreeter{}))
	assert.Len(t, c.Missing(nil), 2)
}

func TestRegisterContract(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterContract(NewContract[greeter]("greeter", "1.0.0")))

	err := r.RegisterContract(NewContract[greeter]("greeter", "1.1.0"))
	assert.True(t, errors.Is(err, errContractExists))
	assert.ErrorIs(t, r.RegisterContract(NewContract[int]("number", "1.0.0")), errContractNotInterface)
	assert.ErrorIs(t, r.RegisterContract(NewContract[greeter]("", "1.0.0")), errEmptyContractName)

	contracts := r.Contracts()
	require.Len(t, contracts, 1)
	assert.Equal(t, "1.0.0", contracts[0].Version)
}

func TestRegisterChecksContracts(t *testing.T) {
	ctx := context.Background()
	newReg := func() *Registry {
		return NewRegistry(WithContracts(NewContract[greeter]("greeter", "1.0.0")))
	}

	t.Run("conforming", func(t *testing.T) {
		r := newReg()
		_, err := r.Register(ctx, englishGreeter{greeterStub("en")})
		require.NoError(t, err)
		info, _ := r.Instance("en")
		assert.False(t, info.LastValidation.HasCode(CodeUncontracted))
	})

	t.Run("violation", func(t *testing.T) {
		r := newReg()
		_, err := r.Register(ctx, wrongGreeter{greeterStub("bad")})
		require.ErrorIs(t, err, ErrInvalidManifest)
		var me *ManifestError
		require.True(t, errors.As(err, &me))
		assert.True(t, me.Result.HasCode(CodeContractViolation))
		assert.Empty(t, r.Keys())
	})

	t.Run("provider_object_checked", func(t *testing.T) {
		r := newReg()
		mod := providerModule{stubModule: greeterStub("prov"), impl: englishGreeter{}}
		_, err := r.Register(ctx, mod, WithConfig(Config{}))
		require.NoError(t, err)
		startAll(t, r)

		g, ok := Lookup[greeter](r, "greeter")
		require.True(t, ok)
		assert.Equal(t, "hello ada", g.Greet("ada"))
	})

	t.Run("uncontracted_warns", func(t *testing.T) {
		r := newReg()
		_, err := r.Register(ctx, newStub("plain"))
		require.NoError(t, err)
		info, _ := r.Instance("plain")
		assert.True(t, info.LastValidation.HasCode(CodeUncontracted))
	})
}
