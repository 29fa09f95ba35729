package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.Source)
	assert.Equal(t, 5000, cfg.Runner.RunTimeoutMs)
	assert.Equal(t, 30, cfg.Runner.CompilationTimeoutSec)
	assert.Equal(t, "direct", cfg.Runner.SandboxType)
	assert.Equal(t, "square", cfg.Runner.EntryFunction)
	assert.Equal(t, "grade.requested", cfg.NATS.GradeRequestSubject)

	require.Contains(t, cfg.Runner.Languages, "python")
	require.Contains(t, cfg.Runner.Languages, "java")
	assert.Equal(t, "main.py", cfg.Runner.Languages["python"].SourceFile)
	assert.Empty(t, cfg.Runner.Languages["python"].CompileCommand)
	assert.Equal(t, "Main.java", cfg.Runner.Languages["java"].SourceFile)
	assert.Equal(t, "java -cp . Main", cfg.Runner.Languages["java"].RunCommand)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
runner:
  runTimeoutMs: 2500
  sandboxType: isolate
mongo:
  database: quiz_test
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("QUIZ_RUNNER_MAXCONCURRENTJOBS", "3")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.Source)
	assert.Equal(t, 2500, cfg.Runner.RunTimeoutMs)
	assert.Equal(t, "isolate", cfg.Runner.SandboxType)
	assert.Equal(t, "quiz_test", cfg.Mongo.Database)
	assert.Equal(t, 3, cfg.Runner.MaxConcurrentJobs)
	// untouched keys keep their defaults
	assert.Equal(t, 30, cfg.Runner.CompilationTimeoutSec)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("runner: [unclosed"), 0o644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestHTTPWriteTimeoutOutlastsJob(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 330*time.Second, cfg.HTTPWriteTimeout())

	cfg.HTTP.WriteTimeoutSec = 60
	cfg.Runner.JobTimeoutSec = 120
	assert.Equal(t, 150*time.Second, cfg.HTTPWriteTimeout())

	cfg.Runner.JobTimeoutSec = 0
	assert.Equal(t, 5*time.Minute, cfg.Runner.JobTimeout())
	assert.Equal(t, 330*time.Second, cfg.HTTPWriteTimeout())
}
