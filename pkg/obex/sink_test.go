package obex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSinkCreateAppendFinalize(t *testing.T) {
	dir := t.TempDir()
	f := NewOSFileSinkFactory(dir)

	sink, name, err := f.Create("report.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if name != "report.txt" {
		t.Fatalf("name = %q, want report.txt", name)
	}
	if err := sink.Append([]byte("hello ")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append([]byte("world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path, err := sink.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q", got)
	}
}

func TestOSFileSinkCollisionSuffixed(t *testing.T) {
	dir := t.TempDir()
	f := NewOSFileSinkFactory(dir)

	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	sink, name, err := f.Create("f.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if name == "f.txt" {
		t.Fatal("expected a disambiguated name on collision")
	}
	sink.Discard()
}

func TestOSFileSinkDiscardRemovesFile(t *testing.T) {
	dir := t.TempDir()
	f := NewOSFileSinkFactory(dir)
	sink, name, err := f.Create("temp.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink.Append([]byte("partial"))
	if err := sink.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
		t.Fatal("file should not exist after Discard")
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"f.txt":              "f.txt",
		"a/b\\c:d*e?f\"g<h>i|j": "a_b_c_d_e_f_g_h_i_j",
		"\x01\x1fname":       "__name",
		"":                   "unnamed",
	}
	for in, want := range cases {
		if got := sanitizeFileName(in); got != want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
