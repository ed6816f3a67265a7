package pvs

import "strconv"

// Builder provides a fluent API for constructing a Document in code. Components
// are addressed by the order they were added, starting at 0; the last one
// added is the conventional root.
type Builder struct {
	doc Document
}

// NewBuilder creates a builder with an empty section_structure.
func NewBuilder() *Builder {
	return &Builder{doc: Document{Structure: &SectionStructure{}}}
}

// Build returns the assembled Document.
func (b *Builder) Build() Document {
	out := b.doc
	out.Structure = &SectionStructure{Components: append([]Component(nil), b.doc.Structure.Components...)}
	return out
}

// Last returns the index of the most recently added component, or -1.
func (b *Builder) Last() int {
	return len(b.doc.Structure.Components) - 1
}

// Assembly appends a component that will hold instances.
func (b *Builder) Assembly(name string) *Builder {
	b.doc.Structure.Components = append(b.doc.Structure.Components, Component{Name: name})
	return b
}

// Part appends a leaf component backed by a geometry file.
func (b *Builder) Part(name, fileName string) *Builder {
	b.doc.Structure.Components = append(b.doc.Structure.Components, Component{
		Name:        name,
		ShapeSource: &ShapeSource{FileName: fileName},
	})
	return b
}

// Inert appends a component with neither instances nor geometry.
func (b *Builder) Inert(name string) *Builder {
	return b.Assembly(name)
}

// Instance appends a raw instance to the component at parent.
func (b *Builder) Instance(parent int, inst ComponentInstance) *Builder {
	comps := b.doc.Structure.Components
	if parent < 0 || parent >= len(comps) {
		return b
	}
	comps[parent].Instances = append(comps[parent].Instances, inst)
	return b
}

// Place instances child under parent. Empty orientation or translation
// strings leave the attribute absent so defaults apply.
func (b *Builder) Place(parent int, id string, child int, orientation, translation string) *Builder {
	inst := ComponentInstance{ID: id, Index: strconv.Itoa(child)}
	if orientation != "" {
		inst.Orientation = &orientation
	}
	if translation != "" {
		inst.Translation = &translation
	}
	return b.Instance(parent, inst)
}

// Hidden instances child under parent with hide_self set.
func (b *Builder) Hidden(parent int, id string, child int) *Builder {
	hide := true
	return b.Instance(parent, ComponentInstance{ID: id, Index: strconv.Itoa(child), HideSelf: &hide})
}

// Properties appends a section_properties block with one component ref.
func (b *Builder) Properties(props ...Property) *Builder {
	b.doc.Properties = append(b.doc.Properties, SectionProperties{
		ComponentRefs: []PropertyComponentRef{{Properties: props}},
	})
	return b
}
