package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/actionlog"
	"github.com/kettleops/kettle/catalog"
)

func init() {
	workDelay = time.Millisecond
}

// recorder captures relayed output for assertions.
type recorder struct {
	mu      sync.Mutex
	entries []kettle.LogEntry
}

func (r *recorder) emit(execID string, entry kettle.LogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

func execCtx(rec *recorder) context.Context {
	return actionlog.WithContext(context.Background(), "exec-test", 0, rec.emit)
}

func TestRegister_RegistersAllBuiltins(t *testing.T) {
	r := catalog.New()
	Register(r)

	for _, name := range []string{
		"clean_cache", "deploy_app", "db_backup", "full_deploy", "health_check", "git_status",
	} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "missing %s", name)
	}

	git, _ := r.Lookup("git_status")
	assert.Equal(t, "devops", git.Queue)
	cache, _ := r.Lookup("clean_cache")
	assert.Equal(t, kettle.DefaultQueue, cache.Queue)
}

func TestCleanCache(t *testing.T) {
	rec := &recorder{}

	result, err := CleanCache(execCtx(rec), map[string]any{"days": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"files_deleted": 3}, result)

	msgs := rec.messages()
	assert.Contains(t, msgs, "Starting cache cleanup (files older than 3 days)...")
	assert.Contains(t, msgs, "Deleted /tmp/cache_file_1.tmp")
	assert.Contains(t, msgs, "Deleted /tmp/cache_file_2.tmp")
	assert.Contains(t, msgs, "Deleted /tmp/cache_file_3.tmp")
	assert.Contains(t, msgs, "✓ Cache cleanup complete! Removed 3 files.")
}

func TestDeployApp_SkipTests(t *testing.T) {
	rec := &recorder{}

	result, err := DeployApp(execCtx(rec), map[string]any{
		"environment": "production",
		"skip_tests":  true,
	})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Equal(t, "production", out["environment"])

	msgs := rec.messages()
	assert.NotContains(t, msgs, "Running tests...")
	assert.Contains(t, msgs, "✓ Successfully deployed to production!")
}

func TestDeployApp_RunsTestsByDefault(t *testing.T) {
	rec := &recorder{}

	_, err := DeployApp(execCtx(rec), nil)
	require.NoError(t, err)
	assert.Contains(t, rec.messages(), "Running tests...")
}

func TestDBBackup(t *testing.T) {
	rec := &recorder{}

	result, err := DBBackup(execCtx(rec), map[string]any{"target_path": "/mnt/backups"})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Contains(t, out["backup_file"].(string), "/mnt/backups/db_backup_")
	assert.Contains(t, rec.messages(), "✓ Database backup complete!")
}

func TestFullDeploy_FailsOutsideExecution(t *testing.T) {
	rec := &recorder{}

	// Nested calls need a worker-installed invoker; bare contexts refuse.
	_, err := FullDeploy(execCtx(rec), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup step")
}

func TestHealthCheck(t *testing.T) {
	rec := &recorder{}

	// duration is in seconds; keep the test tight with a single iteration.
	ctx, cancel := context.WithTimeout(execCtx(rec), 2*time.Second)
	defer cancel()

	result, err := HealthCheck(ctx, map[string]any{"duration": float64(1)})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, 1, out["duration"])
}

func TestIntArg_CoercesJSONNumbers(t *testing.T) {
	assert.Equal(t, 3, intArg(map[string]any{"days": float64(3)}, "days", 7))
	assert.Equal(t, 3, intArg(map[string]any{"days": 3}, "days", 7))
	assert.Equal(t, 3, intArg(map[string]any{"days": "3"}, "days", 7))
	assert.Equal(t, 7, intArg(map[string]any{}, "days", 7))
	assert.Equal(t, 7, intArg(map[string]any{"days": "junk"}, "days", 7))
}

func TestStringArg(t *testing.T) {
	assert.Equal(t, "prod", stringArg(map[string]any{"env": "prod"}, "env", "staging"))
	assert.Equal(t, "staging", stringArg(map[string]any{}, "env", "staging"))
}

func TestBoolArg(t *testing.T) {
	assert.True(t, boolArg(map[string]any{"skip": true}, "skip", false))
	assert.True(t, boolArg(map[string]any{"skip": "true"}, "skip", false))
	assert.False(t, boolArg(map[string]any{}, "skip", false))
}
