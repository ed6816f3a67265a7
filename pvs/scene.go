package pvs

// DefaultRevisionID is the supplied revision id given to every leaf source.
const DefaultRevisionID = "1"

// SceneItem is one flattened traversal node. Field order matches the JSON
// consumers expect.
type SceneItem struct {
	Depth            int            `json:"depth"`
	MaterialOverride *ColorMaterial `json:"materialOverride,omitempty"`
	ParentID         *string        `json:"parentId,omitempty"`
	Source           *Source        `json:"source,omitempty"`
	SuppliedID       string         `json:"suppliedId"`
	Transform        *Transform     `json:"transform,omitempty"`
}

// Source identifies leaf geometry.
type Source struct {
	FileName           string `json:"fileName"`
	SuppliedPartID     string `json:"suppliedPartId"`
	SuppliedRevisionID string `json:"suppliedRevisionId"`
}

// Vector4f is one matrix row.
type Vector4f struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Transform is the world transform of a leaf, one field per row.
type Transform struct {
	R0 Vector4f `json:"r0"`
	R1 Vector4f `json:"r1"`
	R2 Vector4f `json:"r2"`
	R3 Vector4f `json:"r3"`
}

// Color3 is an 8-bit RGB triple.
type Color3 struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ColorMaterial is reserved for material overrides; flattening never sets it.
type ColorMaterial struct {
	Ambient    Color3 `json:"ambient"`
	Diffuse    Color3 `json:"diffuse"`
	Emissive   Color3 `json:"emissive"`
	Glossiness uint8  `json:"glossiness"`
	Opacity    uint8  `json:"opacity"`
	Specular   Color3 `json:"specular"`
}

// IsLeaf reports whether the item references geometry.
func (s SceneItem) IsLeaf() bool { return s.Source != nil }

func newSceneItem(path, partName, revision string, fileName *string, transform *Matrix4) SceneItem {
	suppliedID, parentID, depth := PathIdentity(path)
	item := SceneItem{
		Depth:      depth,
		ParentID:   parentID,
		SuppliedID: suppliedID,
	}
	if fileName != nil {
		item.Source = &Source{
			FileName:           *fileName,
			SuppliedPartID:     partName,
			SuppliedRevisionID: revision,
		}
	}
	if transform != nil && !transform.IsIdentity() {
		t := transform.Transform()
		item.Transform = &t
	}
	return item
}
