package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"qencode/internal/config"
	"qencode/internal/services"
)

// Result reports the outcome of a single preflight check. Advisory results
// never block a job.
type Result struct {
	Name     string
	Passed   bool
	Advisory bool
	Detail   string
}

// RunAll executes every preflight check applicable to the job.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	source := CheckSourceFile(cfg.Paths.Source)
	results = append(results, source)
	results = append(results, CheckDirectoryAccess("Output directory", filepath.Dir(cfg.Paths.Output)))

	tempParent := filepath.Dir(cfg.Paths.TempDir)
	results = append(results, CheckDirectoryAccess("Temp parent", tempParent))

	if source.Passed {
		if info, err := os.Stat(cfg.Paths.Source); err == nil {
			// Split chunks are a stream copy of the source.
			results = append(results, CheckFreeSpace("Temp space", tempParent, uint64(info.Size())))
		}
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Command
		if status.Detail != "" {
			detail = status.Detail
		}
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Advisory: status.Optional,
			Detail:   detail,
		})
	}
	return results
}

// Failures returns the blocking results that did not pass.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Advisory {
			failed = append(failed, r)
		}
	}
	return failed
}

// Verify runs all checks and returns a fatal error naming every blocking failure.
func Verify(ctx context.Context, cfg *config.Config) ([]Result, error) {
	results := RunAll(ctx, cfg)
	failed := Failures(results)
	if len(failed) == 0 {
		return results, nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, r.Name+": "+r.Detail)
	}
	err := services.Wrap(services.ErrNotFound, "preflight", "verify", strings.Join(parts, "; "), nil)
	return results, services.Fatal("preflight", "", err)
}
