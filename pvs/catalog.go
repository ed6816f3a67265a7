package pvs

import (
	"fmt"
	"strconv"
	"strings"
)

// Catalog is an immutable, index-addressed store of components. Instances
// refer to children by integer position, validated at lookup time.
type Catalog struct {
	components []Component
}

// NewCatalog builds the arena from a decoded document.
func NewCatalog(doc Document) (*Catalog, error) {
	if doc.Structure == nil {
		return nil, formatErrorf("pvs document has no section_structure")
	}
	comps := doc.Structure.Components
	if len(comps) == 0 {
		return nil, formatErrorf("component catalog is empty")
	}
	return &Catalog{components: append([]Component(nil), comps...)}, nil
}

// Len returns the number of components.
func (c *Catalog) Len() int { return len(c.components) }

// Component returns the entry at index i.
func (c *Catalog) Component(i int) (Component, error) {
	if i < 0 || i >= len(c.components) {
		return Component{}, formatErrorf("component index %d out of range [0, %d)", i, len(c.components))
	}
	return c.components[i], nil
}

// Resolve parses an instance's string index and returns the referenced entry.
func (c *Catalog) Resolve(inst ComponentInstance) (int, Component, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(inst.Index))
	if err != nil {
		return 0, Component{}, newError(ErrFormat, fmt.Sprintf("instance %q index %q is not an integer", inst.ID, inst.Index), err)
	}
	comp, err := c.Component(idx)
	if err != nil {
		return 0, Component{}, fmt.Errorf("instance %q: %w", inst.ID, err)
	}
	return idx, comp, nil
}

// Root selects the traversal root. A nil index picks the last component, the
// convention PVS producers follow. The choice is ambiguous when a visible
// instance inside the root's own subtree refers back to it; hidden instances
// and components the root never reaches are ignored.
func (c *Catalog) Root(index *int) (int, error) {
	if index != nil {
		if _, err := c.Component(*index); err != nil {
			return 0, fmt.Errorf("root: %w", err)
		}
		return *index, nil
	}
	root := len(c.components) - 1
	seen := make([]bool, len(c.components))
	seen[root] = true
	queue := []int{root}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		comp := c.components[i]
		for _, inst := range comp.Instances {
			if inst.Hidden() {
				continue
			}
			idx, err := strconv.Atoi(strings.TrimSpace(inst.Index))
			if err != nil || idx < 0 || idx >= len(c.components) {
				continue
			}
			if idx == root {
				return 0, formatErrorf("root is ambiguous: last component %d (%q) is instanced by component %d (%q) as %q",
					root, c.components[root].Name, i, comp.Name, inst.ID)
			}
			if !seen[idx] {
				seen[idx] = true
				queue = append(queue, idx)
			}
		}
	}
	return root, nil
}

// ValidateCatalog performs structural validation of a document's catalog.
func ValidateCatalog(doc Document) error {
	var issues []string
	var details []ValidationDetail
	add := func(d ValidationDetail) {
		issues = append(issues, d.Message)
		details = append(details, d)
	}
	if doc.Structure == nil {
		add(ValidationDetail{Component: -1, Field: "section_structure", Message: "missing section_structure"})
		return &CatalogValidationError{Issues: issues, Details: details}
	}
	comps := doc.Structure.Components
	if len(comps) == 0 {
		add(ValidationDetail{Component: -1, Field: "component", Message: "component catalog is empty"})
	}
	for i, comp := range comps {
		if strings.TrimSpace(comp.Name) == "" {
			add(ValidationDetail{Component: i, Field: "name", Message: fmt.Sprintf("component[%d] missing name", i)})
		}
		if comp.ShapeSource != nil && strings.TrimSpace(comp.ShapeSource.FileName) == "" {
			add(ValidationDetail{Component: i, Field: "shape_source.file_name", Message: fmt.Sprintf("component[%d] shape_source missing file_name", i)})
		}
		seen := make(map[string]struct{})
		for j, inst := range comp.Instances {
			if strings.TrimSpace(inst.ID) == "" {
				add(ValidationDetail{Component: i, Field: "component_instance.id", Message: fmt.Sprintf("component[%d] instance %d missing id", i, j)})
			} else {
				if _, dup := seen[inst.ID]; dup {
					add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.id", Message: fmt.Sprintf("component[%d] duplicate instance id %s", i, inst.ID)})
				}
				seen[inst.ID] = struct{}{}
				if strings.Contains(inst.ID, PathSeparator) {
					add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.id", Message: fmt.Sprintf("component[%d] instance id %s contains %q", i, inst.ID, PathSeparator)})
				}
			}
			idx, err := strconv.Atoi(strings.TrimSpace(inst.Index))
			switch {
			case err != nil:
				add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.index", Message: fmt.Sprintf("component[%d] instance %s index %q is not an integer", i, inst.ID, inst.Index)})
			case idx < 0 || idx >= len(comps):
				add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.index", Message: fmt.Sprintf("component[%d] instance %s index %d out of range", i, inst.ID, idx)})
			case idx == i:
				add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.index", Message: fmt.Sprintf("component[%d] instance %s references its own component", i, inst.ID)})
			}
			if inst.Hidden() {
				continue
			}
			if inst.Orientation != nil {
				if _, err := ParseOrientation(*inst.Orientation); err != nil {
					add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.orientation", Message: fmt.Sprintf("component[%d] instance %s orientation: %v", i, inst.ID, err)})
				}
			}
			if inst.Translation != nil {
				if _, err := ParseTranslation(*inst.Translation); err != nil {
					add(ValidationDetail{Component: i, Instance: inst.ID, Field: "component_instance.translation", Message: fmt.Sprintf("component[%d] instance %s translation: %v", i, inst.ID, err)})
				}
			}
		}
	}
	if len(issues) > 0 {
		return &CatalogValidationError{Issues: issues, Details: details}
	}
	return nil
}
