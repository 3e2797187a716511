package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/pool"
)

const fiveStepDoc = `
step "fetch" {
  uses = "noop"
}

step "validate" {
  uses       = "noop"
  depends_on = ["fetch"]
}

step "transform" {
  uses       = "fail"
  depends_on = ["validate"]
}

step "persist" {
  uses       = "noop"
  depends_on = ["transform"]
}

step "notify" {
  uses       = "noop"
  edge       = "finally"
  depends_on = ["transform"]
}
`

func TestParseDefaultsEdgeToThen(t *testing.T) {
	doc, err := Parse([]byte(`step "a" { uses = "noop" }`), "inline.hcl")
	require.NoError(t, err)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, "then", doc.Steps[0].Edge)
}

func TestParseRejectsInvalidEdge(t *testing.T) {
	_, err := Parse([]byte(`
step "a" {
  uses = "noop"
  edge = "sideways"
}
`), "inline.hcl")
	assert.Error(t, err)
}

func TestBuildRejectsUnknownHandler(t *testing.T) {
	doc, err := Parse([]byte(`step "a" { uses = "does-not-exist" }`), "inline.hcl")
	require.NoError(t, err)

	_, err = Build(context.Background(), doc, Registry{})
	assert.Error(t, err)
}

func TestBuildRejectsCycles(t *testing.T) {
	doc, err := Parse([]byte(`
step "a" {
  uses       = "noop"
  depends_on = ["b"]
}

step "b" {
  uses       = "noop"
  depends_on = ["a"]
}
`), "inline.hcl")
	require.NoError(t, err)

	_, err = Build(context.Background(), doc, Registry{"noop": func(context.Context) (any, error) { return nil, nil }})
	assert.ErrorContains(t, err, "cycle")
}

func TestBuildAndRunAllPropagatesFailureAlongThenButNotFinally(t *testing.T) {
	doc, err := Parse([]byte(fiveStepDoc), "pipeline.hcl")
	require.NoError(t, err)

	boom := errors.New("transform failed")

	reg := Registry{
		"noop": func(ctx context.Context) (any, error) { return nil, nil },
		"fail": func(ctx context.Context) (any, error) { return nil, boom },
	}

	graph, err := Build(context.Background(), doc, reg)
	require.NoError(t, err)

	p := pool.New(context.Background(), 4)
	defer p.Close()

	err = graph.RunAll(p)
	require.Error(t, err)
	assert.ErrorContains(t, err, "transform")

	persist, _ := graph.Get("persist")
	_, err = persist.GetResult()
	assert.ErrorIs(t, err, boom, "persist depends on transform through a then edge")

	notify, _ := graph.Get("notify")
	_, err = notify.GetResult()
	assert.NoError(t, err, "notify depends on transform through a finally edge")
}
