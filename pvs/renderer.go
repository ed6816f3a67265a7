package pvs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Renderer renders flattened scene items to a target representation.
type Renderer interface {
	Render(items []SceneItem) ([]byte, error)
}

// JSONRenderer emits the items as a JSON array.
type JSONRenderer struct {
	Pretty bool
}

// Render marshals the items. A nil slice is emitted as [].
func (r JSONRenderer) Render(items []SceneItem) ([]byte, error) {
	if items == nil {
		items = []SceneItem{}
	}
	var (
		out []byte
		err error
	)
	if r.Pretty {
		out, err = json.MarshalIndent(items, "", "  ")
	} else {
		out, err = json.Marshal(items)
	}
	if err != nil {
		return nil, newError(ErrSerialization, "encode scene items", err)
	}
	return out, nil
}

// GraphvizRenderer emits the assembly hierarchy as Graphviz DOT. Composite
// items are boxes, leaves are ellipses labelled with their part file.
type GraphvizRenderer struct{}

// Render converts the items into DOT; nodes keep traversal order and edges are
// sorted for stability.
func (r GraphvizRenderer) Render(items []SceneItem) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("digraph assembly {\n")
	type edge struct{ from, to string }
	var edges []edge
	for _, it := range items {
		attrs := map[string]string{"label": lastSegment(it.SuppliedID), "shape": "box"}
		if it.Source != nil {
			attrs["shape"] = "ellipse"
			attrs["label"] = lastSegment(it.SuppliedID) + "\n" + it.Source.FileName
			attrs["tooltip"] = it.Source.SuppliedPartID
		}
		if it.Transform != nil {
			attrs["style"] = "bold"
		}
		fmt.Fprintf(&buf, "  %q%s;\n", it.SuppliedID, buildDOTAttrs(attrs))
		if it.ParentID != nil {
			edges = append(edges, edge{from: *it.ParentID, to: it.SuppliedID})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})
	for _, e := range edges {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.from, e.to)
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func lastSegment(id string) string {
	if id == PathSeparator {
		return PathSeparator
	}
	return id[strings.LastIndex(id, PathSeparator)+1:]
}

func buildDOTAttrs(m map[string]string) string {
	var parts []string
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return " [" + strings.Join(parts, ",") + "]"
}

// WriteFile renders items and writes them to path atomically; on failure the
// destination is left untouched.
func WriteFile(path string, items []SceneItem, r Renderer) error {
	if r == nil {
		r = JSONRenderer{}
	}
	body, err := r.Render(items)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, body)
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return newError(ErrIO, fmt.Sprintf("create destination %s", path), err)
	}
	tmpName := tmp.Name()
	fail := func(msg string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return newError(ErrIO, msg, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(fmt.Sprintf("chmod destination %s", path), err)
	}
	if _, err := tmp.Write(body); err != nil {
		return fail(fmt.Sprintf("write destination %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		return fail(fmt.Sprintf("close destination %s", path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return newError(ErrIO, fmt.Sprintf("rename destination %s", path), err)
	}
	return nil
}
