package config

import (
	"afl-sancov/internal/types"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"LOG_LEVEL", "CORE_COUNT", "SANCOV_EXEC_TIMEOUT", "LLVM_SYMBOLIZER_PATH", "SERVICE_NAME",
		"DATABASE_URL", "REDIS_URL", "REDIS_SENTINEL_HOSTS", "REDIS_MASTER", "RABBITMQ_URL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	config, err := LoadConfig(&Options{FuzzingDir: dir, CoverageCmd: "sh -c true AFL_FILE"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "sancov"), config.OutputDir)
	assert.Equal(t, DefaultDDNum, config.DDNum)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, []string{"sh", "-c", "true", "AFL_FILE"}, config.Runner.CoverageCmd)
	assert.True(t, filepath.IsAbs(config.Runner.BinPath))
	assert.Equal(t, "address", config.Runner.Sanitizer)
	assert.Equal(t, DefaultExecTimeout, config.Runner.ExecTimeout)
	assert.GreaterOrEqual(t, config.CoreCount, 1)
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "sancov.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
coverage_cmd: sh -c true
timeout: 2s
workers: 3
dd_num: 4
src_prefix: /src/
sanitizer_options: detect_leaks=0
`), 0o644))
	t.Setenv("CORE_COUNT", "6")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	config, err := LoadConfig(&Options{
		FuzzingDir: dir,
		ConfigFile: file,
		DDMode:     true,
		Timeout:    time.Second,
		Verbose:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Second, config.Runner.ExecTimeout, "command line wins over the file")
	assert.Equal(t, 6, config.CoreCount, "environment wins over the file")
	assert.Equal(t, 4, config.DDNum)
	assert.Equal(t, "/src/", config.Runner.SrcPrefix)
	assert.Equal(t, "detect_leaks=0", config.Runner.SanitizerOptions)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", config.Sinks.RedisUrl)
}

func TestLoadConfigErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cases := []struct {
		name  string
		opts  Options
		field string
	}{
		{"missing fuzzing dir", Options{CoverageCmd: "sh"}, "afl-fuzzing-dir"},
		{"fuzzing dir does not exist", Options{FuzzingDir: filepath.Join(dir, "nope"), CoverageCmd: "sh"}, "afl-fuzzing-dir"},
		{"missing coverage cmd", Options{FuzzingDir: dir}, "coverage-cmd"},
		{"dd-num without dd-mode", Options{FuzzingDir: dir, CoverageCmd: "sh", DDNum: 3}, "dd-num"},
		{"negative dd-num", Options{FuzzingDir: dir, CoverageCmd: "sh", DDMode: true, DDNum: -1}, "dd-num"},
		{"negative limit", Options{FuzzingDir: dir, CoverageCmd: "sh", QueueIDLimit: -2}, "afl-queue-id-limit"},
		{"unknown binary", Options{FuzzingDir: dir, CoverageCmd: "definitely-not-a-sancov-binary AFL_FILE"}, "bin-path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(&tc.opts)
			var configErr *types.ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tc.field, configErr.Field)
		})
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("timeout: [1"), 0o644))

	_, err := LoadConfig(&Options{FuzzingDir: dir, CoverageCmd: "sh", ConfigFile: file})
	var configErr *types.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "config", configErr.Field)
}
