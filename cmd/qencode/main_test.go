package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qencode/internal/history"
	"qencode/internal/services"
	"qencode/internal/testsupport"
)

type cliEnv struct {
	base       string
	configPath string
}

// setupCLIEnv isolates HOME and XDG_STATE_HOME so no real configuration or
// history database is touched.
func setupCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))
	return cliEnv{base: base, configPath: filepath.Join(base, "qencode.toml")}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLIEnv(t)
	target := filepath.Join(env.base, "conf", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	env := setupCLIEnv(t)
	writeFile(t, env.configPath, "[encoder]\nname = \"x265\"\n")

	_, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "encoder.name") {
		t.Fatalf("expected encoder.name error, got %v", err)
	}
}

func TestStatusReportsLedger(t *testing.T) {
	env := setupCLIEnv(t)
	temp := filepath.Join(env.base, "temp_out.mkv")
	writeFile(t, filepath.Join(temp, "done.json"), `{"total":30,"done":{"0000":10}}`)
	writeFile(t, filepath.Join(temp, "split", "0000.mkv"), "x")
	writeFile(t, filepath.Join(temp, "split", "0001.mkv"), "x")

	out, _, err := runCLI(t, []string{"status", "--chunks", temp}, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "10/30 frames")
	requireContains(t, out, "1/2 encoded")
	requireContains(t, out, "pending")
	requireContains(t, out, "Running:   no")

	out, _, err = runCLI(t, []string{"status", "--json", temp}, "")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"done_frames": 10`)
	requireContains(t, out, `"name": "0001"`)
}

func TestStatusWithoutJob(t *testing.T) {
	env := setupCLIEnv(t)
	_, _, err := runCLI(t, []string{"status", env.base}, "")
	if err == nil || !strings.Contains(err.Error(), "no job found") {
		t.Fatalf("expected missing job error, got %v", err)
	}
}

func TestDepsCommand(t *testing.T) {
	env := setupCLIEnv(t)
	bin := filepath.Join(env.base, "bin")
	ffmpeg := testsupport.StubBinary(t, bin, "ffmpeg", "exit 0\n")
	ffprobe := testsupport.StubBinary(t, bin, "ffprobe", "exit 0\n")
	aomenc := testsupport.StubBinary(t, bin, "aomenc", "exit 0\n")
	writeFile(t, env.configPath, fmt.Sprintf(
		"[tools]\nffmpeg = %q\nffprobe = %q\naomenc = %q\nvpxenc = %q\n",
		ffmpeg, ffprobe, aomenc, filepath.Join(bin, "missing-vpxenc"),
	))

	out, _, err := runCLI(t, []string{"deps"}, env.configPath)
	if err != nil {
		t.Fatalf("deps: %v\n%s", err, out)
	}
	requireContains(t, out, "aomenc")
	requireContains(t, out, "optional, missing")

	out, _, err = runCLI(t, []string{"deps", "--encoder", "vpx-vp9"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "vpxenc") {
		t.Fatalf("expected vpxenc to be required, got %v\n%s", err, out)
	}
}

func TestHistoryListAndShow(t *testing.T) {
	env := setupCLIEnv(t)
	dbPath := filepath.Join(env.base, "history.db")

	out, _, err := runCLI(t, []string{"history", "--db", dbPath}, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	store, err := history.Open(dbPath)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	ctx := context.Background()
	id, err := store.Begin(ctx, history.Run{
		SourcePath:  "/videos/in.mkv",
		OutputPath:  "/videos/out.mkv",
		Encoder:     "aom",
		QualityMode: "fixed-cq",
		StartedAt:   time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.UpdatePlan(ctx, id, 2, 3, 30, 0); err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if err := store.RecordChunk(ctx, id, history.Chunk{Name: "0000", Result: "verified", Frames: 10, CQ: 30, Reason: "fixed"}); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := store.Finish(ctx, id, services.OutcomeIncomplete, 10, errors.New("1 of 3 chunks not encoded")); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	store.Close()

	out, _, err = runCLI(t, []string{"history", "--db", dbPath}, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, id[:8])
	requireContains(t, out, "incomplete")
	requireContains(t, out, "/videos/in.mkv")

	out, _, err = runCLI(t, []string{"history", "show", id[:8], "--db", dbPath}, "")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "1 of 3 chunks not encoded")
	requireContains(t, out, "verified")
}

func TestHistoryDisabled(t *testing.T) {
	env := setupCLIEnv(t)
	writeFile(t, env.configPath, "[history]\npath = \"\"\n")
	_, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestCleanRemovesStaleTempDirs(t *testing.T) {
	env := setupCLIEnv(t)
	parent := filepath.Join(env.base, "videos")
	stale := filepath.Join(parent, "temp_old.mkv")
	fresh := filepath.Join(parent, "temp_new.mkv")
	other := filepath.Join(parent, "keep")
	writeFile(t, filepath.Join(stale, "done.json"), `{"total":1,"done":{}}`)
	writeFile(t, filepath.Join(fresh, "done.json"), `{"total":1,"done":{}}`)
	if err := os.MkdirAll(other, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(stale, "done.json"), old, old); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"clean", parent, "--older-than", "24h"}, env.configPath)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "Removed 1 stale directories")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale dir removed, err = %v", err)
	}
	for _, dir := range []string{fresh, other} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s kept: %v", dir, err)
		}
	}
}

func TestEncodeRequiresMediaPaths(t *testing.T) {
	env := setupCLIEnv(t)
	_, _, err := runCLI(t, []string{"encode", "--no-history"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "paths.source") {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", services.Wrap(services.ErrCancelled, "encode", "pool", "", nil), 130},
		{"incomplete", services.Wrap(services.ErrIncomplete, "verify", "", "", nil), 2},
		{"fatal", services.Fatal("preflight", "", errors.New("boom")), 1},
		{"plain", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogsFiltersJobLog(t *testing.T) {
	env := setupCLIEnv(t)
	temp := filepath.Join(env.base, "temp_out.mkv")
	writeFile(t, filepath.Join(temp, "log.log"),
		`{"ts":"2026-03-01T10:00:00Z","level":"info","msg":"stage started","stage":"encode"}`+"\n"+
			`{"ts":"2026-03-01T10:00:05Z","level":"warn","msg":"chunk frame mismatch","stage":"encode","chunk":"0002"}`+"\n")

	out, _, err := runCLI(t, []string{"logs", temp, "--level", "warn"}, "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "chunk 0002: chunk frame mismatch")
	if strings.Contains(out, "stage started") {
		t.Fatalf("info record should be filtered:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", temp, "--raw", "-n", "1"}, "")
	if err != nil {
		t.Fatalf("logs --raw: %v", err)
	}
	requireContains(t, out, `"chunk":"0002"`)
}
