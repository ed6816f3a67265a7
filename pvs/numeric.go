package pvs

import (
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied when an instance omits its placement.
const (
	DefaultOrientation = "1,0,0,0,1,0,0,0,1"
	DefaultTranslation = "0,0,0"
)

// ParseVector converts a comma-separated decimal string into exactly n float32
// values. Tokens are trimmed; any unparseable token or a count other than n is
// a format error.
func ParseVector(s string, n int) ([]float32, error) {
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for i, p := range parts {
		tok := strings.TrimSpace(p)
		f, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, newError(ErrFormat, fmt.Sprintf("parse vector %q: token %d %q is not a number", s, i, tok), err)
		}
		out = append(out, float32(f))
	}
	if len(out) != n {
		return nil, formatErrorf("parse vector %q: expected %d values but got %d", s, n, len(out))
	}
	return out, nil
}

// ParseOrientation parses a row-major 3x3 rotation.
func ParseOrientation(s string) ([9]float32, error) {
	var o [9]float32
	v, err := ParseVector(s, len(o))
	if err != nil {
		return o, err
	}
	copy(o[:], v)
	return o, nil
}

// ParseTranslation parses a 3-component translation.
func ParseTranslation(s string) ([3]float32, error) {
	var t [3]float32
	v, err := ParseVector(s, len(t))
	if err != nil {
		return t, err
	}
	copy(t[:], v)
	return t, nil
}
