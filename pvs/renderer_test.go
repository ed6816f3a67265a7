package pvs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func flattenFixture(t *testing.T) []SceneItem {
	t.Helper()
	doc, err := ParseFile(filepath.Join("testdata", "assembly.xml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	return items
}

func TestJSONRendererCompact(t *testing.T) {
	items := flattenFixture(t)
	out, err := (JSONRenderer{}).Render(items)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	body := string(out)
	if !strings.HasPrefix(body, `[{"depth":0,"suppliedId":"/"},{"depth":1,"parentId":"/","suppliedId":"/109"},`) {
		t.Fatalf("unexpected compact prefix: %s", body)
	}
	if strings.Contains(body, "\n") {
		t.Fatalf("compact output should be a single line: %s", body)
	}
	if strings.Contains(body, "materialOverride") {
		t.Fatalf("material override must be omitted: %s", body)
	}
	leaf := `{"depth":2,"parentId":"/109","source":{"fileName":"PN1.ol","suppliedPartId":"PN1, Bolt","suppliedRevisionId":"1"},"suppliedId":"/109/104","transform":{"r0":{"x":1,"y":0,"z":0,"w":0},`
	if !strings.Contains(body, leaf) {
		t.Fatalf("leaf field order mismatch, want %s in %s", leaf, body)
	}
}

func TestJSONRendererPrettyAndEmpty(t *testing.T) {
	out, err := (JSONRenderer{Pretty: true}).Render(flattenFixture(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "\n  {\n    \"depth\": 0,") {
		t.Fatalf("expected indented output: %s", out)
	}
	empty, err := (JSONRenderer{}).Render(nil)
	if err != nil {
		t.Fatalf("render empty: %v", err)
	}
	if string(empty) != "[]" {
		t.Fatalf("expected [], got %s", empty)
	}
}

func TestGraphvizRendererDOT(t *testing.T) {
	dot, err := (GraphvizRenderer{}).Render(flattenFixture(t))
	if err != nil {
		t.Fatalf("render dot: %v", err)
	}
	want, err := os.ReadFile(filepath.Join("testdata", "assembly.dot"))
	if err != nil {
		t.Fatalf("read expected dot: %v", err)
	}
	if strings.TrimSpace(string(dot)) != strings.TrimSpace(string(want)) {
		t.Fatalf("dot mismatch.\n got:\n%s\nwant:\n%s", dot, want)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.json")
	items := flattenFixture(t)
	if err := WriteFile(path, items, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	decoded, err := decodeSceneJSON(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(decoded))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := WriteFile(path, nil, JSONRenderer{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	body, _ := os.ReadFile(path)
	if string(body) != "[]" {
		t.Fatalf("destination not replaced: %s", body)
	}
}

func TestWriteFileMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "scene.json")
	err := WriteFile(path, flattenFixture(t), JSONRenderer{})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not exist after failure")
	}
}

type failingRenderer struct{}

func (failingRenderer) Render([]SceneItem) ([]byte, error) {
	return nil, newError(ErrSerialization, "boom", nil)
}

func TestWriteFileRenderFailureLeavesDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := WriteFile(path, nil, failingRenderer{})
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	body, _ := os.ReadFile(path)
	if string(body) != "keep" {
		t.Fatalf("destination modified on failure: %s", body)
	}
}
