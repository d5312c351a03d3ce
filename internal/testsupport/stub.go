package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// StubBinary writes an executable /bin/sh script named name into dir and
// returns its path. body is the script after the shebang line.
func StubBinary(t testing.TB, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

// ArgsRecorder returns a script fragment that appends the invocation's
// arguments, one per line followed by "--", to logPath.
func ArgsRecorder(logPath string) string {
	return "for a in \"$@\"; do printf '%s\\n' \"$a\" >> '" + logPath + "'; done\necho -- >> '" + logPath + "'\n"
}
