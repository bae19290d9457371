package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleops/kettle"
)

func noop(_ context.Context, _ map[string]any) (any, error) {
	return nil, nil
}

func testAction(name, queue string) kettle.Action {
	return kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        name,
			Group:       "Test",
			Description: "test action",
			Queue:       queue,
			Params: []kettle.Param{
				{Name: "days", Type: "int", Default: 7},
			},
		},
		Handler: noop,
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(testAction("clean_cache", "maintenance"))

	act, ok := r.Lookup("clean_cache")
	require.True(t, ok)
	assert.Equal(t, "maintenance", act.Queue)
	assert.NotNil(t, act.Handler)

	_, ok = r.Lookup("does_not_exist")
	assert.False(t, ok)
}

func TestRegistry_DefaultQueue(t *testing.T) {
	r := New()
	r.Register(testAction("clean_cache", ""))

	act, _ := r.Lookup("clean_cache")
	assert.Equal(t, kettle.DefaultQueue, act.Queue)
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := New()
	r.Register(testAction("clean_cache", "first"))
	r.Register(testAction("clean_cache", "second"))

	require.Equal(t, 1, r.Len())
	act, _ := r.Lookup("clean_cache")
	assert.Equal(t, "second", act.Queue)
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	r.Register(testAction("clean_cache", ""))
	r.Unregister("clean_cache")

	_, ok := r.Lookup("clean_cache")
	assert.False(t, ok)

	// Unregistering an unknown name is harmless.
	r.Unregister("ghost")
}

func TestRegistry_All(t *testing.T) {
	r := New()
	r.Register(testAction("a", "q1"))
	r.Register(testAction("b", "q2"))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "q1", all["a"].Queue)
	assert.Equal(t, "q2", all["b"].Queue)

	// All returns a copy: mutating it does not touch the registry.
	delete(all, "a")
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Reload(t *testing.T) {
	r := New()
	r.Register(testAction("stale", ""))

	r.Reload(func(r *Registry) {
		r.Register(testAction("fresh", ""))
	})

	_, ok := r.Lookup("stale")
	assert.False(t, ok)
	_, ok = r.Lookup("fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}
