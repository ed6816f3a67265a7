package pvs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Converter turns input of one format into another (e.g., pvs -> document -> scene -> scenejson).
type Converter interface {
	From() string
	To() string
	Convert(ctx context.Context, input any, opts map[string]any) (any, error)
}

// ConverterRegistry is a threadsafe registry for converters.
type ConverterRegistry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

// NewConverterRegistry builds an empty registry.
func NewConverterRegistry() *ConverterRegistry {
	return &ConverterRegistry{converters: make(map[string]Converter)}
}

// ConverterExistsError indicates a duplicate registration attempt.
var ConverterExistsError = errors.New("converter already registered")

// Register adds a converter. Returns ConverterExistsError when a from->to pair already exists.
func (r *ConverterRegistry) Register(conv Converter) error {
	if conv == nil {
		return errors.New("converter is nil")
	}
	key := converterKey(conv.From(), conv.To())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.converters[key]; exists {
		return fmt.Errorf("%w: %s", ConverterExistsError, key)
	}
	r.converters[key] = conv
	return nil
}

// ConverterDescriptor captures a registered mapping.
type ConverterDescriptor struct {
	From string
	To   string
}

// List returns descriptors for registered converters.
func (r *ConverterRegistry) List() []ConverterDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConverterDescriptor, 0, len(r.converters))
	for _, c := range r.converters {
		out = append(out, ConverterDescriptor{From: strings.ToLower(c.From()), To: strings.ToLower(c.To())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From == out[j].From {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out
}

// Convert dispatches to a registered converter.
func (r *ConverterRegistry) Convert(ctx context.Context, from, to string, input any, opts map[string]any) (any, error) {
	key := converterKey(from, to)
	r.mu.RLock()
	conv, ok := r.converters[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no converter for %s", key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return conv.Convert(ctx, input, opts)
}

// Chain converts input through each consecutive pair of formats, e.g.
// Chain(ctx, body, nil, "pvs", "document", "scene", "scenejson").
func (r *ConverterRegistry) Chain(ctx context.Context, input any, opts map[string]any, formats ...string) (any, error) {
	if len(formats) < 2 {
		return nil, errors.New("chain needs at least two formats")
	}
	out := input
	for i := 1; i < len(formats); i++ {
		var err error
		out, err = r.Convert(ctx, formats[i-1], formats[i], out, opts)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DefaultConverterRegistry is pre-populated with built-in converters for pvs/document/scene.
var DefaultConverterRegistry = newDefaultConverterRegistry()

func newDefaultConverterRegistry() *ConverterRegistry {
	reg := NewConverterRegistry()
	registerDefaultConverters(reg)
	return reg
}

func converterKey(from, to string) string {
	return strings.ToLower(from) + "->" + strings.ToLower(to)
}

// registerDefaultConverters wires built-ins onto the provided registry.
func registerDefaultConverters(reg *ConverterRegistry) {
	// ignore duplicate errors to allow idempotent init in tests
	_ = reg.Register(basicConverter{
		from: "pvs",
		to:   "document",
		fn: func(_ context.Context, input any, opts map[string]any) (any, error) {
			parseOpts := ParseOptions{}
			if v, ok := opts["strict"].(bool); ok {
				parseOpts.Validate = v
			}
			if v, ok := opts["max_bytes"].(int64); ok {
				parseOpts.MaxBytes = v
			}
			switch v := input.(type) {
			case string:
				return ParseReaderWithOptions(strings.NewReader(v), parseOpts)
			case []byte:
				return ParseReaderWithOptions(bytes.NewReader(v), parseOpts)
			case io.Reader:
				return ParseReaderWithOptions(v, parseOpts)
			default:
				return nil, fmt.Errorf("pvs->document converter expects string, []byte, or io.Reader, got %T", input)
			}
		},
	})
	_ = reg.Register(basicConverter{
		from: "document",
		to:   "pvs",
		fn: func(_ context.Context, input any, _ map[string]any) (any, error) {
			doc, ok := input.(Document)
			if !ok {
				return nil, fmt.Errorf("document->pvs converter expects Document, got %T", input)
			}
			var buf bytes.Buffer
			if err := doc.Encode(&buf); err != nil {
				return nil, err
			}
			return buf.String(), nil
		},
	})
	_ = reg.Register(basicConverter{
		from: "document",
		to:   "scene",
		fn: func(_ context.Context, input any, opts map[string]any) (any, error) {
			flattenOpts := FlattenOptions{}
			if v, ok := opts["flatten"].(FlattenOptions); ok {
				flattenOpts = v
			}
			switch v := input.(type) {
			case Document:
				return FlattenDocument(v, flattenOpts)
			case *Catalog:
				return Flatten(v, flattenOpts)
			default:
				return nil, fmt.Errorf("document->scene converter expects Document or *Catalog, got %T", input)
			}
		},
	})
	_ = reg.Register(basicConverter{
		from: "scene",
		to:   "scenejson",
		fn: func(_ context.Context, input any, opts map[string]any) (any, error) {
			pretty := false
			if v, ok := opts["pretty"].(bool); ok {
				pretty = v
			}
			items, ok := input.([]SceneItem)
			if !ok {
				return nil, fmt.Errorf("scene->scenejson converter expects []SceneItem, got %T", input)
			}
			return JSONRenderer{Pretty: pretty}.Render(items)
		},
	})
	_ = reg.Register(basicConverter{
		from: "scenejson",
		to:   "scene",
		fn: func(_ context.Context, input any, _ map[string]any) (any, error) {
			switch v := input.(type) {
			case string:
				return decodeSceneJSON([]byte(v))
			case []byte:
				return decodeSceneJSON(v)
			default:
				return nil, fmt.Errorf("scenejson->scene converter expects string or []byte, got %T", input)
			}
		},
	})
	_ = reg.Register(basicConverter{
		from: "scene",
		to:   "dot",
		fn: func(_ context.Context, input any, _ map[string]any) (any, error) {
			items, ok := input.([]SceneItem)
			if !ok {
				return nil, fmt.Errorf("scene->dot converter expects []SceneItem, got %T", input)
			}
			return GraphvizRenderer{}.Render(items)
		},
	})
	_ = reg.Register(basicConverter{
		from: "scene",
		to:   "report",
		fn: func(_ context.Context, input any, _ map[string]any) (any, error) {
			items, ok := input.([]SceneItem)
			if !ok {
				return nil, fmt.Errorf("scene->report converter expects []SceneItem, got %T", input)
			}
			return BuildReport(items), nil
		},
	})
	for _, f := range []TextFormat{FormatMarkdown, FormatOrg, FormatHTML} {
		format := f
		_ = reg.Register(basicConverter{
			from: "report",
			to:   string(format),
			fn: func(_ context.Context, input any, opts map[string]any) (any, error) {
				rep, ok := input.(Report)
				if !ok {
					return nil, fmt.Errorf("report->%s converter expects Report, got %T", format, input)
				}
				if format == FormatHTML {
					src := FormatMarkdown
					if v, ok := opts["report_source"].(TextFormat); ok {
						src = v
					}
					return RenderReportHTML(rep, src)
				}
				return RenderReport(rep, format)
			},
		})
	}
}

type basicConverter struct {
	from string
	to   string
	fn   func(ctx context.Context, input any, opts map[string]any) (any, error)
}

func (c basicConverter) From() string { return c.from }
func (c basicConverter) To() string   { return c.to }
func (c basicConverter) Convert(ctx context.Context, input any, opts map[string]any) (any, error) {
	return c.fn(ctx, input, opts)
}

func decodeSceneJSON(body []byte) ([]SceneItem, error) {
	var items []SceneItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, newError(ErrSerialization, "decode scene json", err)
	}
	return items, nil
}
