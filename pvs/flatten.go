package pvs

import (
	"fmt"
	"log/slog"
)

// FlattenOptions control traversal. The zero value applies the defaults.
type FlattenOptions struct {
	// Root selects the root component; nil means the last catalog entry.
	Root *int
	// MaxDepth bounds the hierarchy depth; 0 means unbounded.
	MaxDepth int
	// TranslationScale multiplies translations; 0 means DefaultTranslationScale.
	TranslationScale float32
	// Orientation and Translation replace absent instance placements.
	Orientation string
	Translation string
	// RevisionID is stamped on every leaf source.
	RevisionID string
	Logger     *slog.Logger
}

func (o *FlattenOptions) defaults() {
	if o.TranslationScale == 0 {
		o.TranslationScale = DefaultTranslationScale
	}
	if o.Orientation == "" {
		o.Orientation = DefaultOrientation
	}
	if o.Translation == "" {
		o.Translation = DefaultTranslation
	}
	if o.RevisionID == "" {
		o.RevisionID = DefaultRevisionID
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// FlattenDocument builds the catalog for doc and flattens it.
func FlattenDocument(doc Document, opts FlattenOptions) ([]SceneItem, error) {
	cat, err := NewCatalog(doc)
	if err != nil {
		return nil, err
	}
	return Flatten(cat, opts)
}

// Flatten walks the catalog depth-first from the root and returns one item
// per composite or leaf node in pre-order. Any failure aborts the walk and
// no items are returned.
func Flatten(cat *Catalog, opts FlattenOptions) ([]SceneItem, error) {
	opts.defaults()
	root, err := cat.Root(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("flatten start", "components", cat.Len(), "root", root)
	f := &flattener{
		cat:    cat,
		opts:   opts,
		onPath: make([]bool, cat.Len()),
	}
	comp, _ := cat.Component(root)
	if err := f.visit(root, comp, "", nil); err != nil {
		return nil, err
	}
	opts.Logger.Debug("flatten done", "items", len(f.items))
	return f.items, nil
}

type flattener struct {
	cat    *Catalog
	opts   FlattenOptions
	items  []SceneItem
	onPath []bool
}

// visit emits the node for comp and recurses into its visible instances.
// acc is nil until the first instance transform is applied.
func (f *flattener) visit(idx int, comp Component, path string, acc *Matrix4) error {
	if f.onPath[idx] {
		return formatErrorf("cycle: component %d (%q) re-entered at %s", idx, comp.Name, displayPath(path))
	}
	f.onPath[idx] = true
	defer func() { f.onPath[idx] = false }()

	if !comp.IsComposite() {
		if comp.ShapeSource == nil {
			return nil
		}
		f.items = append(f.items, newSceneItem(path, comp.Name, f.opts.RevisionID, &comp.ShapeSource.FileName, acc))
		return nil
	}

	f.items = append(f.items, newSceneItem(path, comp.Name, f.opts.RevisionID, nil, nil))
	for _, inst := range comp.Instances {
		if inst.Hidden() {
			continue
		}
		local, err := f.localTransform(inst)
		if err != nil {
			return fmt.Errorf("%s instance %q: %w", displayPath(path), inst.ID, err)
		}
		childIdx, child, err := f.cat.Resolve(inst)
		if err != nil {
			return fmt.Errorf("%s: %w", displayPath(path), err)
		}
		world := local
		if acc != nil {
			world = Multiply(*acc, local)
		}
		childPath := JoinPath(path, inst.ID)
		if f.opts.MaxDepth > 0 {
			if _, _, depth := PathIdentity(childPath); depth > f.opts.MaxDepth {
				return formatErrorf("%s exceeds max depth %d", childPath, f.opts.MaxDepth)
			}
		}
		if err := f.visit(childIdx, child, childPath, &world); err != nil {
			return err
		}
	}
	return nil
}

func (f *flattener) localTransform(inst ComponentInstance) (Matrix4, error) {
	orientation := f.opts.Orientation
	if inst.Orientation != nil {
		orientation = *inst.Orientation
	}
	translation := f.opts.Translation
	if inst.Translation != nil {
		translation = *inst.Translation
	}
	o, err := ParseOrientation(orientation)
	if err != nil {
		return Matrix4{}, err
	}
	t, err := ParseTranslation(translation)
	if err != nil {
		return Matrix4{}, err
	}
	return BuildTransform(o, t, f.opts.TranslationScale), nil
}

func displayPath(path string) string {
	id, _, _ := PathIdentity(path)
	return id
}
