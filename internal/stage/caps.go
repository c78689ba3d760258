package stage

import (
	"fmt"
	"sort"
	"strings"
)

// Caps is the media type and fixed attributes declared at a stage boundary.
//
// The textual form matches GStreamer caps strings restricted to a single
// structure with plain values:
//
//	video/x-h264,stream-format=byte-stream,alignment=au
type Caps struct {
	MediaType string
	Fields    map[string]string
}

// ParseCaps parses a single-structure caps string.
func ParseCaps(s string) (Caps, error) {
	parts := strings.Split(s, ",")
	mediaType := strings.TrimSpace(parts[0])
	if mediaType == "" || !strings.Contains(mediaType, "/") {
		return Caps{}, fmt.Errorf("stage: invalid media type %q", mediaType)
	}

	c := Caps{MediaType: mediaType, Fields: make(map[string]string, len(parts)-1)}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return Caps{}, fmt.Errorf("stage: caps field %q has no value", p)
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		// typed GStreamer values, e.g. (string)au or (int)1920
		if i := strings.Index(v, ")"); strings.HasPrefix(v, "(") && i > 0 {
			v = v[i+1:]
		}
		if k == "" || v == "" {
			return Caps{}, fmt.Errorf("stage: caps field %q is empty", p)
		}
		c.Fields[k] = v
	}
	return c, nil
}

// MustParseCaps is ParseCaps for caps literals known at compile time.
func MustParseCaps(s string) Caps {
	c, err := ParseCaps(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsZero reports whether no caps are declared (boundary accepts anything).
func (c Caps) IsZero() bool {
	return c.MediaType == ""
}

// Compatible reports whether data described by c can flow into a boundary
// declaring other: same media type and equal values for every shared field.
func (c Caps) Compatible(other Caps) bool {
	if c.IsZero() || other.IsZero() {
		return true
	}
	if c.MediaType != other.MediaType {
		return false
	}
	for k, v := range c.Fields {
		if ov, ok := other.Fields[k]; ok && ov != v {
			return false
		}
	}
	return true
}

// With returns a copy of c with the given field set.
func (c Caps) With(key, value string) Caps {
	fields := make(map[string]string, len(c.Fields)+1)
	for k, v := range c.Fields {
		fields[k] = v
	}
	fields[key] = value
	return Caps{MediaType: c.MediaType, Fields: fields}
}

// String renders the caps with fields in a stable order.
func (c Caps) String() string {
	if c.IsZero() {
		return "ANY"
	}
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.MediaType)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.Fields[k])
	}
	return b.String()
}
