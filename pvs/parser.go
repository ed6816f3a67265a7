// Package pvs reads CAD product view structure (PVS) documents and flattens
// their assembly tree into an ordered list of scene items.
package pvs

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultRootElement is used when encoding a Document that was built in code.
const DefaultRootElement = "pv_file"

// Document represents a PVS file. Only section_structure drives flattening;
// section_properties is decoded so it survives a round trip.
type Document struct {
	XMLName    xml.Name
	Structure  *SectionStructure   `xml:"section_structure"`
	Properties []SectionProperties `xml:"section_properties"`
}

// SectionStructure holds the ordered component catalog.
type SectionStructure struct {
	Components []Component `xml:"component"`
}

// Component is either a composite (has instances), a leaf (has a shape
// source) or inert (neither).
type Component struct {
	Name        string              `xml:"name,attr"`
	ShapeSource *ShapeSource        `xml:"shape_source"`
	Instances   []ComponentInstance `xml:"component_instance"`
}

// ShapeSource references the geometry file of a leaf component.
type ShapeSource struct {
	FileName string `xml:"file_name,attr"`
}

// ComponentInstance places a child component, referenced by catalog index,
// inside its parent.
type ComponentInstance struct {
	ID          string  `xml:"id,attr"`
	Index       string  `xml:"index,attr"`
	Orientation *string `xml:"orientation,attr"`
	Translation *string `xml:"translation,attr"`
	HideSelf    *bool   `xml:"hide_self,attr"`
	HideChild   *bool   `xml:"hide_child,attr"`
}

// SectionProperties groups property references.
type SectionProperties struct {
	ComponentRefs []PropertyComponentRef `xml:"property_component_ref"`
}

// PropertyComponentRef carries name/value properties for a component.
type PropertyComponentRef struct {
	Properties []Property `xml:"property"`
	Attrs      []xml.Attr `xml:",any,attr"`
}

// Property is a single name/value pair.
type Property struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// IsComposite reports whether the component has instances.
func (c Component) IsComposite() bool { return len(c.Instances) > 0 }

// IsLeaf reports whether the component is a geometry leaf.
func (c Component) IsLeaf() bool { return !c.IsComposite() && c.ShapeSource != nil }

// Hidden reports whether the instance and its subtree are skipped.
func (ci ComponentInstance) Hidden() bool {
	return (ci.HideSelf != nil && *ci.HideSelf) || (ci.HideChild != nil && *ci.HideChild)
}

// Components returns the catalog entries, or nil when section_structure is absent.
func (d Document) Components() []Component {
	if d.Structure == nil {
		return nil
	}
	return d.Structure.Components
}

// ParseOptions controls decoding.
type ParseOptions struct {
	// Validate runs ValidateCatalog after decoding.
	Validate bool
	// MaxBytes rejects larger documents; 0 disables the limit.
	MaxBytes int64
}

var defaultParseOptions = ParseOptions{}
var strictParseOptions = ParseOptions{Validate: true}

// ParseString decodes a PVS document from a string.
func ParseString(body string) (Document, error) {
	return parseWithOptions(strings.NewReader(body), defaultParseOptions)
}

// ParseFile decodes a PVS document from the given file path.
func ParseFile(path string) (Document, error) {
	return parseFileWithOptions(path, defaultParseOptions)
}

// ParseReader decodes a PVS document from an io.Reader.
func ParseReader(r io.Reader) (Document, error) {
	return parseWithOptions(r, defaultParseOptions)
}

// ParseReaderWithOptions decodes a PVS document with explicit options.
func ParseReaderWithOptions(r io.Reader, opts ParseOptions) (Document, error) {
	return parseWithOptions(r, opts)
}

// ParseFileWithOptions decodes a PVS file with explicit options.
func ParseFileWithOptions(path string, opts ParseOptions) (Document, error) {
	return parseFileWithOptions(path, opts)
}

// ParseStringStrict decodes a PVS document with catalog validation enabled.
func ParseStringStrict(body string) (Document, error) {
	return parseWithOptions(strings.NewReader(body), strictParseOptions)
}

// ParseFileStrict decodes a PVS file with catalog validation enabled.
func ParseFileStrict(path string) (Document, error) {
	return parseFileWithOptions(path, strictParseOptions)
}

// ParseReaderStrict decodes a PVS document from a reader with validation enabled.
func ParseReaderStrict(r io.Reader) (Document, error) {
	return parseWithOptions(r, strictParseOptions)
}

func parseFileWithOptions(path string, opts ParseOptions) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, newError(ErrIO, fmt.Sprintf("open source %s", path), err)
	}
	defer f.Close()
	return parseWithOptions(f, opts)
}

func parseWithOptions(r io.Reader, opts ParseOptions) (Document, error) {
	src := r
	if opts.MaxBytes > 0 {
		body, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
		if err != nil {
			return Document{}, newError(ErrIO, "read document", err)
		}
		if int64(len(body)) > opts.MaxBytes {
			return Document{}, newError(ErrFormat, fmt.Sprintf("document exceeds %d bytes", opts.MaxBytes), nil)
		}
		src = bytes.NewReader(body)
	}
	var doc Document
	if err := xml.NewDecoder(src).Decode(&doc); err != nil {
		return Document{}, newError(ErrFormat, "decode pvs document", err)
	}
	if doc.Structure == nil {
		return Document{}, newError(ErrFormat, "pvs document has no section_structure", nil)
	}
	if opts.Validate {
		if err := ValidateCatalog(doc); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// Encode writes the document back to indented XML with a header.
func (d Document) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if d.XMLName.Local == "" {
		d.XMLName = xml.Name{Local: DefaultRootElement}
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return newError(ErrSerialization, "encode pvs document", err)
	}
	return enc.Flush()
}

// DumpFile writes the document to path atomically.
func (d Document) DumpFile(path string) error {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}
