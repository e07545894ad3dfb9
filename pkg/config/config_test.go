package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParallelThreads(t *testing.T) {
	cpu := runtime.NumCPU()

	tests := []struct {
		name     string
		input    string
		expected int
		wantErr  bool
	}{
		{name: "empty means all cores", input: "", expected: cpu},
		{name: "plain integer", input: "8", expected: 8},
		{name: "zero falls back to all cores", input: "0", expected: cpu},
		{name: "cpu alone", input: "CPU", expected: cpu},
		{name: "cpu minus n", input: "CPU - 1", expected: max(cpu-1, 1)},
		{name: "cpu minus without spaces", input: "CPU-2", expected: max(cpu-2, 1)},
		{name: "cpu minus more than cores", input: "CPU - 1000", expected: 1},
		{name: "garbage", input: "banana", wantErr: true},
		{name: "cpu plus", input: "CPU + 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParallelThreads(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Positive(t, cfg.Workers())
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 5000
	assert.Error(t, cfg.Validate(), "page size must be a power of two")

	cfg.PageSize = 2048
	assert.Error(t, cfg.Validate(), "page size below the minimum")
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	content := `
data_dir: /tmp/quarry-test
buffer_pool_pages: 128
page_size: 16384
parallel_threads: "CPU - 1"
detect_deadlock: true
cache_pages:
  btree: 64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/quarry-test", cfg.DataDir)
	assert.Equal(t, 128, cfg.BufferPoolPages)
	assert.Equal(t, 16384, cfg.PageSize)
	assert.True(t, cfg.DetectDeadlock)
	assert.Equal(t, 64, cfg.CachePages.Btree)
	assert.Equal(t, 512, cfg.CachePages.FullText, "absent keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
