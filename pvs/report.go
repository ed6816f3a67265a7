package pvs

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	goorg "github.com/niklasfasching/go-org/org"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// TextFormat enumerates report targets.
type TextFormat string

const (
	FormatMarkdown TextFormat = "markdown"
	FormatOrg      TextFormat = "org"
	FormatHTML     TextFormat = "html"
)

// ErrNotImplemented is returned for unsupported report formats.
var ErrNotImplemented = errors.New("report format not implemented")

// Report summarizes a flattened scene.
type Report struct {
	Items       int
	Composites  int
	Leaves      int
	Transformed int
	MaxDepth    int
	Parts       []PartUsage
}

// PartUsage counts how often a part file is placed.
type PartUsage struct {
	FileName string
	PartID   string
	Count    int
}

// BuildReport aggregates item counts and part usage. Parts are sorted by file
// name, then part id.
func BuildReport(items []SceneItem) Report {
	rep := Report{Items: len(items)}
	usage := make(map[[2]string]int)
	for _, it := range items {
		if it.Depth > rep.MaxDepth {
			rep.MaxDepth = it.Depth
		}
		if it.Source == nil {
			rep.Composites++
			continue
		}
		rep.Leaves++
		if it.Transform != nil {
			rep.Transformed++
		}
		usage[[2]string{it.Source.FileName, it.Source.SuppliedPartID}]++
	}
	for k, n := range usage {
		rep.Parts = append(rep.Parts, PartUsage{FileName: k[0], PartID: k[1], Count: n})
	}
	sort.Slice(rep.Parts, func(i, j int) bool {
		if rep.Parts[i].FileName != rep.Parts[j].FileName {
			return rep.Parts[i].FileName < rep.Parts[j].FileName
		}
		return rep.Parts[i].PartID < rep.Parts[j].PartID
	})
	return rep
}

// RenderReport renders the report as markdown or org text.
func RenderReport(rep Report, format TextFormat) (string, error) {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(rep), nil
	case FormatOrg:
		return renderOrg(rep), nil
	default:
		return "", ErrNotImplemented
	}
}

// RenderReportHTML renders the report text in src format and converts it to
// sanitized HTML: markdown through goldmark, org through go-org.
func RenderReportHTML(rep Report, src TextFormat) (string, error) {
	text, err := RenderReport(rep, src)
	if err != nil {
		return "", err
	}
	var html string
	switch src {
	case FormatMarkdown:
		md := goldmark.New(goldmark.WithExtensions(extension.Table))
		var buf bytes.Buffer
		if err := md.Convert([]byte(text), &buf); err != nil {
			return "", newError(ErrSerialization, "render markdown report", err)
		}
		html = buf.String()
	case FormatOrg:
		out, err := goorg.New().Parse(strings.NewReader(text), "").Write(goorg.NewHTMLWriter())
		if err != nil {
			return "", newError(ErrSerialization, "render org report", err)
		}
		html = out
	}
	return bluemonday.UGCPolicy().Sanitize(html), nil
}

func renderMarkdown(rep Report) string {
	var b strings.Builder
	b.WriteString("# Assembly report\n\n")
	b.WriteString("| metric | value |\n|---|---|\n")
	for _, kv := range reportMetrics(rep) {
		fmt.Fprintf(&b, "| %s | %d |\n", kv.name, kv.value)
	}
	if len(rep.Parts) > 0 {
		b.WriteString("\n## Parts\n\n")
		b.WriteString("| file | part | count |\n|---|---|---|\n")
		for _, p := range rep.Parts {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", escapeCell(p.FileName), escapeCell(p.PartID), p.Count)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderOrg(rep Report) string {
	var b strings.Builder
	b.WriteString("* Assembly report\n\n")
	b.WriteString("| metric | value |\n|--------+-------|\n")
	for _, kv := range reportMetrics(rep) {
		fmt.Fprintf(&b, "| %s | %d |\n", kv.name, kv.value)
	}
	if len(rep.Parts) > 0 {
		b.WriteString("\n** Parts\n\n")
		b.WriteString("| file | part | count |\n|------+------+-------|\n")
		for _, p := range rep.Parts {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", escapeCell(p.FileName), escapeCell(p.PartID), p.Count)
		}
	}
	return strings.TrimSpace(b.String())
}

type metric struct {
	name  string
	value int
}

func reportMetrics(rep Report) []metric {
	return []metric{
		{"items", rep.Items},
		{"assemblies", rep.Composites},
		{"parts", rep.Leaves},
		{"transformed parts", rep.Transformed},
		{"max depth", rep.MaxDepth},
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ReportFormatForPath picks the report format from the file extension:
// .md, .org or .html.
func ReportFormatForPath(path string) (TextFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".org":
		return FormatOrg, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", NewArgumentError(fmt.Sprintf("report %s: extension must be .md, .org or .html", path))
	}
}

// WriteReport renders rep in the format implied by path and writes it
// atomically. htmlSource selects the text format converted for .html paths.
func WriteReport(path string, rep Report, htmlSource TextFormat) error {
	format, err := ReportFormatForPath(path)
	if err != nil {
		return err
	}
	var text string
	if format == FormatHTML {
		text, err = RenderReportHTML(rep, htmlSource)
	} else {
		text, err = RenderReport(rep, format)
	}
	if err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(text+"\n"))
}
