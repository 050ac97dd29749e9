package execctx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusidx/internal/config"
	"corpusidx/internal/logging"
)

func withCUDA(t *testing.T, available bool) {
	t.Helper()
	orig := detectCUDA
	detectCUDA = func() bool { return available }
	t.Cleanup(func() { detectCUDA = orig })
}

func TestDeviceSelection(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		gpu       bool
		want      Device
		wantErr   bool
	}{
		{"forced cpu with gpu", "cpu", true, CPU, false},
		{"auto without gpu", "auto", false, CPU, false},
		{"auto with gpu", "auto", true, CUDA, false},
		{"cuda with gpu", "cuda", true, CUDA, false},
		{"cuda without gpu", "cuda", false, "", true},
		{"unknown", "tpu", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withCUDA(t, tt.gpu)
			cfg := config.Default()
			cfg.General.Device = tt.requested

			env, err := New(cfg, nil)
			if tt.wantErr {
				require.ErrorIs(t, err, config.ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Device)
			assert.Same(t, cfg, env.Config)
			assert.NotNil(t, env.Logger)
		})
	}
}

func TestNilConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestLogMemory(t *testing.T) {
	var buf bytes.Buffer
	env := ForCPU(config.Default(), logging.New(&buf, "debug"))
	env.LogMemory("after flush")
	assert.Contains(t, buf.String(), "after flush: rss=")
}
