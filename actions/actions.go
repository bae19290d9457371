// Package actions holds the built-in automation routines shipped with
// kettle. Each is an ordinary function registered with an explicit
// descriptor; the worker runner supplies the execution context and log
// relay plumbing.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/actionlog"
	"github.com/kettleops/kettle/catalog"
)

// workDelay simulates slow steps in the demo actions.
var workDelay = 100 * time.Millisecond

func pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Register adds every built-in action to the registry.
func Register(r *catalog.Registry) {
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "clean_cache",
			Group:       "Maintenance",
			Description: "Clean up temporary files older than specified days",
			Params: []kettle.Param{
				{Name: "days", Type: "int", Default: 7},
			},
		},
		Handler: CleanCache,
	})
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "deploy_app",
			Group:       "DevOps",
			Description: "Deploy application to specified environment",
			Params: []kettle.Param{
				{Name: "environment", Type: "string", Default: "staging"},
				{Name: "skip_tests", Type: "bool", Default: false},
			},
		},
		Handler: DeployApp,
	})
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "db_backup",
			Group:       "Database",
			Description: "Backup database to storage",
			Params: []kettle.Param{
				{Name: "target_path", Type: "string", Default: "/backups"},
			},
		},
		Handler: DBBackup,
	})
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "full_deploy",
			Group:       "DevOps",
			Description: "Full deployment with backup - demonstrates nested calls",
			Params: []kettle.Param{
				{Name: "environment", Type: "string", Default: "staging"},
			},
		},
		Handler: FullDeploy,
	})
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "health_check",
			Group:       "Monitoring",
			Description: "Long-running health check simulation",
			Params: []kettle.Param{
				{Name: "duration", Type: "int", Default: 30},
			},
		},
		Handler: HealthCheck,
	})
	r.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "git_status",
			Group:       "DevOps",
			Queue:       "devops",
			Description: "Show git working tree status",
			Params:      []kettle.Param{},
		},
		Handler: GitStatus,
	})
}

// CleanCache simulates removing stale cache files.
func CleanCache(ctx context.Context, params map[string]any) (any, error) {
	days := intArg(params, "days", 7)
	actionlog.Printf(ctx, "Starting cache cleanup (files older than %d days)...", days)

	cacheFiles := []string{
		"/tmp/cache_file_1.tmp",
		"/tmp/cache_file_2.tmp",
		"/tmp/cache_file_3.tmp",
	}
	for _, path := range cacheFiles {
		actionlog.Printf(ctx, "Deleted %s", path)
		pause(ctx, workDelay)
	}

	actionlog.Printf(ctx, "✓ Cache cleanup complete! Removed %d files.", len(cacheFiles))
	return map[string]any{"files_deleted": len(cacheFiles)}, nil
}

// DeployApp simulates an application deployment.
func DeployApp(ctx context.Context, params map[string]any) (any, error) {
	environment := stringArg(params, "environment", "staging")
	skipTests := boolArg(params, "skip_tests", false)

	actionlog.Printf(ctx, "🚀 Starting deployment to %s...", environment)

	if !skipTests {
		actionlog.Print(ctx, "Running tests...")
		pause(ctx, workDelay)
		actionlog.Print(ctx, "✓ All tests passed")
	}

	actionlog.Print(ctx, "Building application...")
	pause(ctx, workDelay)
	actionlog.Print(ctx, "✓ Build complete")

	actionlog.Printf(ctx, "Deploying to %s...", environment)
	pause(ctx, workDelay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	actionlog.Printf(ctx, "✓ Successfully deployed to %s!", environment)

	return map[string]any{
		"environment": environment,
		"version":     "1.0.0",
		"timestamp":   time.Now().Unix(),
	}, nil
}

// DBBackup simulates a database backup.
func DBBackup(ctx context.Context, params map[string]any) (any, error) {
	targetPath := stringArg(params, "target_path", "/backups")
	actionlog.Printf(ctx, "Starting database backup to %s...", targetPath)

	actionlog.Print(ctx, "Locking tables...")
	pause(ctx, workDelay)
	actionlog.Print(ctx, "Dumping database...")
	pause(ctx, workDelay)

	backupFile := fmt.Sprintf("%s/db_backup_%d.sql", targetPath, time.Now().Unix())
	actionlog.Printf(ctx, "✓ Backup saved to %s", backupFile)

	actionlog.Print(ctx, "Unlocking tables...")
	actionlog.Print(ctx, "✓ Database backup complete!")
	return map[string]any{"backup_file": backupFile, "size_mb": 145}, nil
}

// FullDeploy chains db_backup and deploy_app as nested in-process calls
// sharing this execution's id at call depth + 1.
func FullDeploy(ctx context.Context, params map[string]any) (any, error) {
	environment := stringArg(params, "environment", "staging")
	actionlog.Printf(ctx, "🎯 Starting full deployment workflow for %s", environment)

	actionlog.Print(ctx, "→ Step 1: Backing up database...")
	backup, err := kettle.Call(ctx, "db_backup", nil)
	if err != nil {
		return nil, fmt.Errorf("backup step: %w", err)
	}

	actionlog.Print(ctx, "→ Step 2: Deploying application...")
	deployment, err := kettle.Call(ctx, "deploy_app", map[string]any{"environment": environment})
	if err != nil {
		return nil, fmt.Errorf("deploy step: %w", err)
	}

	actionlog.Print(ctx, "✓ Full deployment workflow complete!")
	return map[string]any{
		"backup":     backup,
		"deployment": deployment,
		"workflow":   "success",
	}, nil
}

// HealthCheck simulates a long-running periodic check.
func HealthCheck(ctx context.Context, params map[string]any) (any, error) {
	duration := intArg(params, "duration", 30)
	actionlog.Printf(ctx, "Starting health check (will run for %d seconds)...", duration)

	for i := 1; i <= duration; i++ {
		actionlog.Printf(ctx, "[%d/%d] Checking system health...", i, duration)
		pause(ctx, time.Second)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i%5 == 0 {
			actionlog.Printf(ctx, "  ✓ All systems operational at %ds", i)
		}
	}

	actionlog.Print(ctx, "✓ Health check complete - all systems healthy!")
	return map[string]any{"status": "healthy", "duration": duration}, nil
}

// GitStatus shells out to git and relays its output.
func GitStatus(ctx context.Context, params map[string]any) (any, error) {
	actionlog.Print(ctx, "Checking git status...")
	if err := actionlog.RunCommand(ctx, "git status"); err != nil {
		return nil, err
	}
	return map[string]any{"status": "clean"}, nil
}
