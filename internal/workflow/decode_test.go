package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocksrun/blocks/internal/errors"
)

func TestParseCommandBlock(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - name: build
    description: compile everything
    run: make all
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)

	b := wf.Blocks[0]
	assert.Equal(t, KindCommand, b.Kind())
	assert.Equal(t, "build", b.Name)
	assert.Equal(t, "compile everything", b.Description)
	assert.Equal(t, "make all", b.Run)
}

func TestParseEmptyRunIsStillCommand(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - run: ""
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)
	assert.Equal(t, KindCommand, wf.Blocks[0].Kind())
}

func TestParseRemoteBlock(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - run-remotely:
      ip: 10.0.0.5
      user: deploy
      pass: hunter2
      run: systemctl restart app
      log-into: logs/deploy.log
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)

	b := wf.Blocks[0]
	require.Equal(t, KindRemote, b.Kind())
	assert.Equal(t, "10.0.0.5", b.Remote.Host)
	assert.Equal(t, "deploy", b.Remote.User)
	assert.Equal(t, "hunter2", b.Remote.Password)
	assert.Equal(t, "systemctl restart app", b.Remote.Run)
	assert.Equal(t, "logs/deploy.log", b.Remote.LogFile)
}

func TestParseLoopBlock(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - for:
      individual: host
      in: cfg.hosts
      run: ping -c1 host
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)

	b := wf.Blocks[0]
	require.Equal(t, KindLoop, b.Kind())
	assert.Equal(t, "host", b.Loop.Var)
	assert.Equal(t, "cfg.hosts", b.Loop.In)
	assert.Equal(t, "ping -c1 host", b.Loop.Run)
}

func TestParseLoopWithBlocksTemplate(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - for:
      individual: env
      in: cfg.envs
      blocks:
        - run: echo env
        - run-remotely:
            ip: env
            run: uptime
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)

	l := wf.Blocks[0].Loop
	require.NotNil(t, l)
	require.Len(t, l.Blocks, 2)
	assert.Equal(t, KindCommand, l.Blocks[0].Kind())
	assert.Equal(t, KindRemote, l.Blocks[1].Kind())
}

func TestParseNestedLoop(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - for:
      individual: region
      in: cfg.regions
      for:
        individual: zone
        in: cfg.zones
        run: echo region zone
`))
	require.NoError(t, err)
	l := wf.Blocks[0].Loop
	require.NotNil(t, l)
	require.NotNil(t, l.Loop)
	assert.Equal(t, "zone", l.Loop.Var)
	assert.Equal(t, "echo region zone", l.Loop.Run)
}

func TestParseParallelShapes(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, p *ParallelSpec)
	}{
		{
			name: "block list",
			yaml: `
blocks:
  - parallel:
      - run: echo a
      - run: echo b
`,
			check: func(t *testing.T, p *ParallelSpec) {
				assert.False(t, p.Invalid)
				assert.Len(t, p.Blocks, 2)
			},
		},
		{
			name: "loop",
			yaml: `
blocks:
  - parallel:
      for:
        individual: n
        in: cfg.nums
        run: echo n
`,
			check: func(t *testing.T, p *ParallelSpec) {
				assert.False(t, p.Invalid)
				require.NotNil(t, p.Loop)
				assert.Equal(t, "n", p.Loop.Var)
			},
		},
		{
			name: "scalar is invalid",
			yaml: `
blocks:
  - parallel: oops
`,
			check: func(t *testing.T, p *ParallelSpec) {
				assert.True(t, p.Invalid)
			},
		},
		{
			name: "mapping without for is invalid",
			yaml: `
blocks:
  - parallel:
      whatever: 1
`,
			check: func(t *testing.T, p *ParallelSpec) {
				assert.True(t, p.Invalid)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			require.Len(t, wf.Blocks, 1)
			require.Equal(t, KindParallel, wf.Blocks[0].Kind())
			tt.check(t, wf.Blocks[0].Parallel)
		})
	}
}

func TestParseUnknownBlock(t *testing.T) {
	wf, err := Parse([]byte(`
blocks:
  - name: mystery
    banana: yes
`))
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 1)
	assert.Equal(t, KindUnknown, wf.Blocks[0].Kind())
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("blocks:\n\t- run: broken"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrWorkflow))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrWorkflow))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocks:\n  - run: true\n"), 0o644))

	wf, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, wf.Blocks, 1)
}
