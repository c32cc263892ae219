package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// runCLI runs the app with args and returns what it wrote to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.RunContext(context.Background(), append([]string{"memsnap-cli"}, args...))
	return stdout.String(), err
}

// mustRun runs the app and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("memsnap-cli %v: %v", args, err)
	}
	return out
}

// decodeJSON decodes the output of a -o json command.
func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeConfig writes a configuration keeping artifacts under dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	yaml := fmt.Sprintf(`storage:
  backend: disk
  dir: %s
snapshot:
  interpreter: %s
log:
  level: warn
`, filepath.Join(dir, "artifacts"), filepath.Join(dir, "interpreter.wasm"))
	return writeFile(t, filepath.Join(dir, "memsnap.yaml"), []byte(yaml))
}
