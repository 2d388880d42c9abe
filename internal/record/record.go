// Package record defines the opaque key/value record type shared by the
// matching and merge engines, along with dot-path field access, deep
// equality, and deterministic serialization.
package record

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is an opaque key/value mapping. Keys are plain field names; nested
// structure is expressed with nested Records, and dotted paths like
// "address.city" address nested fields from the outside.
type Record map[string]any

// Clone returns a deep copy of r. Nested Records and []any slices are copied
// recursively; other values are copied by assignment (values are expected to
// be primitives, time.Time, or further Records/slices).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return Record(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// splitPath splits a dot-notated path into its segments. Empty segments
// (leading/trailing/double dots) are kept as "" keys; Set rejects only an
// empty first segment.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// Get resolves a dot-path against r. The second return value is false if any
// segment along the path is missing or the path traverses a non-mapping
// value. A nil interface value with ok=true means the field exists and is
// explicitly null.
func (r Record) Get(path string) (any, bool) {
	segs := splitPath(path)
	var cur any = r
	for _, seg := range segs {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}

// Set assigns value at the dot-path, creating intermediate Records as
// needed. Set fails (returns an error) if an intermediate segment already
// holds a non-mapping, non-nil value.
func (r Record) Set(path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 || segs[0] == "" {
		return fmt.Errorf("record: empty path")
	}
	cur := r
	for i, seg := range segs {
		last := i == len(segs)-1
		if last {
			cur[seg] = value
			return nil
		}
		next, exists := cur[seg]
		if !exists || next == nil {
			nm := make(Record)
			cur[seg] = nm
			cur = nm
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return fmt.Errorf("record: cannot descend into non-mapping field %q", strings.Join(segs[:i+1], "."))
		}
		if rm, ok := m.(Record); ok {
			cur = rm
		} else {
			rm := Record(m)
			cur[seg] = rm
			cur = rm
		}
	}
	return nil
}

// Paths returns every leaf field path reachable by recursively walking r.
// Plain nested mappings are descended into; arrays (and any other value) are
// treated as leaves, per spec: "arrays are leaves".
func (r Record) Paths() []string {
	var out []string
	walk(r, "", &out)
	sort.Strings(out)
	return out
}

func walk(m map[string]any, prefix string, out *[]string) {
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if nested, ok := asMap(v); ok {
			walk(nested, p, out)
			continue
		}
		*out = append(*out, p)
	}
}

// DeepEqual reports whether a and b are structurally equal: primitives via
// normal Go equality (nil equals only nil), arrays element-wise, and
// mappings by equal key sets plus
// recursively equal values. Types must match except for the numeric
// widening described below.
func DeepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if am, aok := asMap(a); aok {
		bm, bok := asMap(b)
		if !bok {
			return false
		}
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, exists := bm[k]
			if !exists || !DeepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	if aArr, aok := a.([]any); aok {
		bArr, bok := b.([]any)
		if !bok || len(aArr) != len(bArr) {
			return false
		}
		for i := range aArr {
			if !DeepEqual(aArr[i], bArr[i]) {
				return false
			}
		}
		return true
	}

	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		if !bok {
			return false
		}
		return at.Equal(bt)
	}

	if an, aok := toFloat(a); aok {
		bn, bok := toFloat(b)
		if !bok {
			return false
		}
		return an == bn
	}

	return a == b
}

// toFloat widens the common numeric kinds to float64 so that e.g. 29 (int)
// and 29.0 (float64) coming from different decoders compare equal.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// StableString produces a deterministic string representation of v: map keys
// are sorted, nested structures are rendered recursively, and primitive
// types are formatted unambiguously (dates as RFC3339). Two values with
// identical structural content but different key insertion order produce
// identical strings.
func StableString(v any) string {
	var b strings.Builder
	writeStable(&b, v)
	return b.String()
}

func writeStable(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case Record:
		writeStableMap(b, t)
	case map[string]any:
		writeStableMap(b, t)
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeStable(b, e)
		}
		b.WriteByte(']')
	case time.Time:
		b.WriteByte('"')
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
		b.WriteByte('"')
	case string:
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	default:
		fmt.Fprintf(b, "%v", t)
	}
}

// FNV1aHex returns the 8-hex-digit FNV-1a hash of s, used to build
// deterministic cache keys over a StableString-canonicalized input.
func FNV1aHex(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func writeStableMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		writeStable(b, m[k])
	}
	b.WriteByte('}')
}
