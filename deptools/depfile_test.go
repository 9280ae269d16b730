package deptools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteDepFileFormatsGccStyle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.o.d")

	if err := WriteDepFile(path, "out.o", []string{"a.h", "b.h"}); err != nil {
		t.Fatalf("WriteDepFile: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.HasPrefix(text, "out.o: \\\n") {
		t.Fatalf("depfile does not start with the target line: %q", text)
	}
	if !strings.Contains(text, "a.h") || !strings.Contains(text, "b.h") {
		t.Fatalf("depfile missing one of the declared deps: %q", text)
	}
}

func TestWriteDepFileNoDeps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.o.d")

	if err := WriteDepFile(path, "out.o", nil); err != nil {
		t.Fatalf("WriteDepFile: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(out), "out.o: ") {
		t.Fatalf("depfile = %q, want a target-only line", out)
	}
}
