package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
)

const sampleDeployment = `
pipeline:
  id: logcrunch
  inputs: [in]
  outputs: [out, errors]
  operators:
    - id: filter
      kind: select
      config:
        where: 'event.level != "debug"'
        group_by: event.host
        window:
          size: 10
          interval: 1s
          sliding: true
          idle: 30s
    - id: group
      kind: batch
      config:
        count: 50
        timeout: 500ms
    - id: annotate
      kind: script
      config:
        set_meta:
          - namespace: routing
            key: class
            expr: "'bulk'"
  connections:
    - from: in
      to: filter/in
    - from: filter/out
      to: group/in
    - from: filter/err
      to: errors
    - from: group/out
      to: annotate/in
    - from: annotate/out
      to: out
runtime:
  tick_interval: 50ms
  inbox_size: 128
  breaker:
    max_failures: 3
    timeout: 10s
    half_open_probes: 2
logging:
  level: debug
  pretty: true
telemetry:
  metrics_addr: ":9100"
`

func TestParseDeployment(t *testing.T) {
	cfg, err := Parse([]byte(sampleDeployment))
	require.NoError(t, err)

	assert.Equal(t, "logcrunch", cfg.Pipeline.ID)
	assert.Equal(t, []string{"in"}, cfg.Pipeline.Inputs)
	assert.Equal(t, []string{"out", "errors"}, cfg.Pipeline.Outputs)
	require.Len(t, cfg.Pipeline.Operators, 3)
	require.Len(t, cfg.Pipeline.Connections, 5)

	// The "node/port" shorthand and the bare graph-port form both parse.
	assert.Equal(t, pipeline.PortAddr{Port: "in"}, cfg.Pipeline.Connections[0].From)
	assert.Equal(t, pipeline.PortAddr{Node: "filter", Port: "in"}, cfg.Pipeline.Connections[0].To)

	assert.Equal(t, 50*time.Millisecond, cfg.Runtime.TickInterval.Std())
	assert.Equal(t, 128, cfg.Runtime.InboxSize)
	assert.Equal(t, 3, cfg.Runtime.Breaker.MaxFailures)
	assert.Equal(t, 10*time.Second, cfg.Runtime.Breaker.Timeout.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9100", cfg.Telemetry.MetricsAddr)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  id: p
  inputs: [in]
  outputs: [out]
  operators:
    - id: x
      kind: teleport
  connections:
    - from: in
      to: x/in
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []string{
		``,
		`pipeline: {id: p}`,
		`pipeline: {id: p, inputs: [in], outputs: [out]}`,
	}
	for _, src := range cases {
		_, err := Parse([]byte(src))
		assert.Errorf(t, err, "expected %q to fail validation", src)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  id: p
  inputs: [in]
  outputs: [out]
  operators:
    - id: x
      kind: passthrough
  connections:
    - from: in
      to: x/in
runtime:
  tick_interval: soon
`))
	assert.Error(t, err)
}

func TestBuildOperatorsFromDeployment(t *testing.T) {
	cfg, err := Parse([]byte(sampleDeployment))
	require.NoError(t, err)

	operators, err := BuildOperators(context.Background(), &cfg.Pipeline)
	require.NoError(t, err)
	require.Len(t, operators, 3)

	assert.Equal(t, "filter", operators[0].ID())
	assert.Equal(t, "select", operators[0].Kind())
	assert.Equal(t, "batch", operators[1].Kind())
	assert.Equal(t, "script", operators[2].Kind())

	// The compiled graph must come out of the same declaration.
	_, err = pipeline.Build(&cfg.Pipeline, operators)
	require.NoError(t, err)
}

func TestBuildOperatorsRejectsBadScript(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "s", Kind: "script", Config: map[string]any{"expr": "event =="}},
		},
	}
	_, err := BuildOperators(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"s"`)
}

func TestBuildOperatorsRejectsEmptyScript(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "s", Kind: "script", Config: map[string]any{}},
		},
	}
	_, err := BuildOperators(context.Background(), spec)
	assert.Error(t, err)
}

func TestBuildOperatorsRego(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "gate", Kind: "select", Config: map[string]any{
				"where_rego": map[string]any{
					"module": "package gate\n\ndefault allow = false\n\nallow if {\n\tinput.event.ok\n}\n",
					"query":  "data.gate.allow",
				},
			}},
		},
	}
	operators, err := BuildOperators(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, operators, 1)
}

func TestBuildOperatorsRejectsBothWhereForms(t *testing.T) {
	spec := &pipeline.Spec{
		ID:      "p",
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
		Operators: []pipeline.OperatorSpec{
			{ID: "s", Kind: "select", Config: map[string]any{
				"where": "true",
				"where_rego": map[string]any{
					"module": "package x\nallow := true\n",
					"query":  "data.x.allow",
				},
			}},
		},
	}
	_, err := BuildOperators(context.Background(), spec)
	assert.Error(t, err)
}

func TestFileProviderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDeployment), 0o600))

	provider, err := NewFileProvider(path, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	updates := provider.Subscribe()
	first := <-updates
	assert.Equal(t, "logcrunch", first.Pipeline.ID)

	updated := []byte(`
pipeline:
  id: renamed
  inputs: [in]
  outputs: [out]
  operators:
    - id: x
      kind: passthrough
  connections:
    - from: in
      to: x/in
    - from: x/out
      to: out
`)
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	select {
	case cfg := <-updates:
		assert.Equal(t, "renamed", cfg.Pipeline.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("reload never arrived")
	}
	assert.Equal(t, "renamed", provider.Current().Pipeline.ID)
}

func TestFileProviderKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDeployment), 0o600))

	provider, err := NewFileProvider(path, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("pipeline: {id: broken"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "logcrunch", provider.Current().Pipeline.ID)
}

func TestFileProviderRequiresValidInitialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: a: deployment"), 0o600))

	_, err := NewFileProvider(path, zerolog.Nop())
	assert.Error(t, err)
}
