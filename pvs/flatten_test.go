package pvs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func loadGoldenScene(t *testing.T, name string) []SceneItem {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read golden: %v", err)
	}
	var items []SceneItem
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("unmarshal golden: %v", err)
	}
	return items
}

func TestGoldenAssemblyScene(t *testing.T) {
	doc, err := ParseFileStrict(filepath.Join("testdata", "assembly.xml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := loadGoldenScene(t, "assembly_scene.json")
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if !reflect.DeepEqual(items, want) {
		got, _ := json.MarshalIndent(items, "", "  ")
		wantBody, _ := json.MarshalIndent(want, "", "  ")
		t.Fatalf("scene mismatch.\n got:\n%s\nwant:\n%s", got, wantBody)
	}
}

func TestGoldenResidueIsStillEmitted(t *testing.T) {
	doc, err := ParseFile(filepath.Join("testdata", "assembly.xml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	last := items[len(items)-1]
	if last.SuppliedID != "/107" || last.Transform == nil {
		t.Fatalf("expected /107 with a transform, got %+v", last)
	}
	if w := last.Transform.R1.W; w == 0 || w > 1e-20 {
		t.Fatalf("expected a negligible non-zero residue, got %g", w)
	}
}

func TestFlattenNearIdentityRotations(t *testing.T) {
	doc, err := ParseFileStrict(filepath.Join("testdata", "near_identity.xml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.SuppliedID)
	}
	if got := strings.Join(ids, ","); got != "/,/200,/200/201,/300,/300/301,/107" {
		t.Fatalf("unexpected items: %s", got)
	}

	// opposite quarter turns compose to exact identity.
	if cancelled := items[2]; cancelled.Source == nil || cancelled.Transform != nil {
		t.Fatalf("cancelled rotation must omit transform: %+v", cancelled)
	}

	tilt := BuildTransform([9]float32{1, 0, 0, 0, 1, 1e-30, 0, -1e-30, 1}, [3]float32{}, DefaultTranslationScale)
	turn := BuildTransform([9]float32{0, 1, 0, -1, 0, 0, 0, 0, 1}, [3]float32{0, 0, 0.001}, DefaultTranslationScale)
	nested := items[4]
	if nested.Transform == nil {
		t.Fatalf("rotation residue through a parent must still be emitted: %+v", nested)
	}
	if got, want := nested.Transform.Matrix(), Multiply(tilt, turn); got != want {
		t.Fatalf("composed transform mismatch:\n got %v\nwant %v", got, want)
	}
	if nested.Transform.R1.Z != float32(-1e-30) || nested.Transform.R2.X != float32(1e-30) {
		t.Fatalf("residue lost in composition: %+v", nested.Transform)
	}

	direct := items[5]
	if direct.Transform == nil || direct.Transform.R1.Z != float32(-1e-30) || direct.Transform.R2.Y != float32(1e-30) {
		t.Fatalf("near-identity orientation must be emitted: %+v", direct.Transform)
	}
	if direct.Transform.Matrix().IsIdentity() {
		t.Fatalf("residue treated as identity")
	}
}

func TestFlattenRootProperties(t *testing.T) {
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("TOP").
		Place(1, "1", 0, "", "").
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	root := items[0]
	if root.Depth != 0 || root.SuppliedID != "/" || root.ParentID != nil {
		t.Fatalf("root mismatch: %+v", root)
	}
	if root.Source != nil || root.Transform != nil || root.MaterialOverride != nil {
		t.Fatalf("composite root must not carry source/transform/material: %+v", root)
	}
	leaf := items[1]
	if leaf.Transform != nil {
		t.Fatalf("leaf under default placement must omit transform: %+v", leaf.Transform)
	}
	if leaf.Source == nil || leaf.Source.SuppliedPartID != "P" || leaf.Source.SuppliedRevisionID != DefaultRevisionID {
		t.Fatalf("leaf source mismatch: %+v", leaf.Source)
	}
}

func TestFlattenCompositeNeverCarriesTransform(t *testing.T) {
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("SUB").
		Place(1, "p", 0, "", "0.001,0,0").
		Assembly("TOP").
		Place(2, "s", 1, "0,1,0,-1,0,0,0,0,1", "0,0.002,0").
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for _, it := range items {
		if it.Source == nil && it.Transform != nil {
			t.Fatalf("composite %s carries a transform", it.SuppliedID)
		}
	}
	leaf := items[2]
	if leaf.SuppliedID != "/s/p" || leaf.Transform == nil {
		t.Fatalf("leaf mismatch: %+v", leaf)
	}
	// parent rotation maps the child's x offset onto the parent's axes.
	want := Multiply(
		BuildTransform([9]float32{0, 1, 0, -1, 0, 0, 0, 0, 1}, [3]float32{0, 0.002, 0}, DefaultTranslationScale),
		BuildTransform([9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}, [3]float32{0.001, 0, 0}, DefaultTranslationScale),
	)
	if leaf.Transform.Matrix() != want {
		t.Fatalf("composed transform mismatch:\n got %v\nwant %v", leaf.Transform.Matrix(), want)
	}
}

func TestFlattenSkipsHiddenAndInert(t *testing.T) {
	hide := true
	doc := NewBuilder().
		Part("P", "p.ol").
		Inert("LABEL").
		Assembly("SUB").
		Place(2, "p", 0, "", "").
		Assembly("TOP").
		Hidden(3, "hidden-self", 2).
		Instance(3, ComponentInstance{ID: "hidden-child", Index: "2", HideChild: &hide}).
		Place(3, "label", 1, "", "").
		Place(3, "visible", 0, "", "").
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.SuppliedID)
	}
	if got := strings.Join(ids, ","); got != "/,/visible" {
		t.Fatalf("unexpected items: %s", got)
	}
}

func TestFlattenHiddenInstanceIsNotParsed(t *testing.T) {
	hide := true
	bad := "not,a,rotation"
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("TOP").
		Instance(1, ComponentInstance{ID: "x", Index: "99", Orientation: &bad, HideSelf: &hide}).
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("hidden instance should not be evaluated: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the root, got %d", len(items))
	}
}

func TestFlattenInertRootEmitsNothing(t *testing.T) {
	doc := NewBuilder().Inert("EMPTY").Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %+v", items)
	}
}

func TestFlattenLeafRootHasNoTransform(t *testing.T) {
	doc := NewBuilder().Part("P", "p.ol").Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(items) != 1 || items[0].SuppliedID != "/" || items[0].Source == nil || items[0].Transform != nil {
		t.Fatalf("leaf root mismatch: %+v", items)
	}
}

func TestFlattenSharedSubassemblyIsNotACycle(t *testing.T) {
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("SUB").
		Place(1, "p", 0, "", "").
		Assembly("TOP").
		Place(2, "a", 1, "", "0.001,0,0").
		Place(2, "b", 1, "", "0.002,0,0").
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if items[2].Transform.R0.W != 1 || items[4].Transform.R0.W != 2 {
		t.Fatalf("instances not placed independently: %+v %+v", items[2].Transform, items[4].Transform)
	}
}

func TestFlattenFailures(t *testing.T) {
	cases := []struct {
		file string
		want string
	}{
		{file: "bad_index.xml", want: "out of range"},
		{file: "cycle.xml", want: "cycle"},
		{file: "short_translation.xml", want: "expected 3 values but got 2"},
		{file: "bad_number.xml", want: `"x" is not a number`},
		{file: "empty.xml", want: "catalog is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			doc, err := ParseFile(filepath.Join("testdata", "invalid", tc.file))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			items, err := FlattenDocument(doc, FlattenOptions{})
			if err == nil {
				t.Fatalf("expected error, got %d items", len(items))
			}
			if items != nil {
				t.Fatalf("partial output returned: %+v", items)
			}
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected format error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestFlattenRootSelection(t *testing.T) {
	b := NewBuilder().
		Part("P", "p.ol").
		Assembly("A").
		Place(1, "p", 0, "", "").
		Assembly("B").
		Place(2, "a", 1, "", "")
	doc := b.Build()

	root := 1
	items, err := FlattenDocument(doc, FlattenOptions{Root: &root})
	if err != nil {
		t.Fatalf("flatten explicit root: %v", err)
	}
	if len(items) != 2 || items[1].SuppliedID != "/p" {
		t.Fatalf("explicit root mismatch: %+v", items)
	}

	bad := 9
	if _, err := FlattenDocument(doc, FlattenOptions{Root: &bad}); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected format error for out-of-range root, got %v", err)
	}

	ambiguous := b.Place(0, "x", 2, "", "").Build()
	_, err = FlattenDocument(ambiguous, FlattenOptions{})
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguous root error, got %v", err)
	}
}

func TestFlattenRootIgnoresHiddenAndUnreachableReferences(t *testing.T) {
	hiddenSelf := NewBuilder().
		Part("P", "p.ol").
		Assembly("TOP").
		Place(1, "p", 0, "", "").
		Hidden(1, "h", 1).
		Build()
	items, err := FlattenDocument(hiddenSelf, FlattenOptions{})
	if err != nil {
		t.Fatalf("hidden self reference should not make the root ambiguous: %v", err)
	}
	if len(items) != 2 || items[1].SuppliedID != "/p" {
		t.Fatalf("unexpected items: %+v", items)
	}

	orphan := NewBuilder().
		Part("P", "p.ol").
		Assembly("ORPHAN").
		Assembly("TOP").
		Place(2, "p", 0, "", "").
		Place(1, "top", 2, "", "").
		Build()
	items, err = FlattenDocument(orphan, FlattenOptions{})
	if err != nil {
		t.Fatalf("unreachable reference should not make the root ambiguous: %v", err)
	}
	if len(items) != 2 || items[1].SuppliedID != "/p" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestFlattenMaxDepth(t *testing.T) {
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("A").
		Place(1, "p", 0, "", "").
		Assembly("B").
		Place(2, "a", 1, "", "").
		Build()
	if _, err := FlattenDocument(doc, FlattenOptions{MaxDepth: 2}); err != nil {
		t.Fatalf("depth 2 should pass: %v", err)
	}
	_, err := FlattenDocument(doc, FlattenOptions{MaxDepth: 1})
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("expected max depth error, got %v", err)
	}
}

func TestFlattenOptionsOverrideDefaults(t *testing.T) {
	doc := NewBuilder().
		Part("P", "p.ol").
		Assembly("TOP").
		Place(1, "p", 0, "", "").
		Build()
	items, err := FlattenDocument(doc, FlattenOptions{
		TranslationScale: 1,
		Translation:      "1,2,3",
		RevisionID:       "B",
	})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	leaf := items[1]
	if leaf.Source.SuppliedRevisionID != "B" {
		t.Fatalf("revision override ignored: %+v", leaf.Source)
	}
	if leaf.Transform == nil || leaf.Transform.R2.W != 3 {
		t.Fatalf("translation default/scale override ignored: %+v", leaf.Transform)
	}
}

func TestFlattenIsDeterministic(t *testing.T) {
	doc, err := ParseFile(filepath.Join("testdata", "assembly.xml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, err := FlattenDocument(doc, FlattenOptions{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := FlattenDocument(doc, FlattenOptions{})
		if err != nil {
			t.Fatalf("flatten %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}
