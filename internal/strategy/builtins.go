package strategy

import (
	"fmt"
	"sort"
)

var builtins = map[string]Func{
	"preferFirst":   preferFirst,
	"preferLast":    preferLast,
	"preferNonNull": preferNonNull,
	"preferNewer":   preferNewer,
	"preferOlder":   preferOlder,
	"preferLonger":  preferLonger,
	"preferShorter": preferShorter,
	"concatenate":   concatenate,
	"union":         union,
	"mostFrequent":  mostFrequent,
	"average":       average,
	"sum":           sum,
	"min":           min_,
	"max":           max_,
	"custom":        custom,
}

func isNull(v any) bool { return v == nil }

// candidateIndices returns the indices eligible for selection: by default
// null/undefined values are skipped; opts.NullHandling == "include" keeps
// them in the running.
func candidateIndices(values []any, opts Options) []int {
	var idx []int
	for i, v := range values {
		if isNull(v) && opts.NullHandling != "include" {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

func preferFirst(values []any, _ []SourceMeta, opts Options) (any, bool) {
	idx := candidateIndices(values, opts)
	if len(idx) == 0 {
		return nil, false
	}
	return values[idx[0]], true
}

func preferLast(values []any, _ []SourceMeta, opts Options) (any, bool) {
	idx := candidateIndices(values, opts)
	if len(idx) == 0 {
		return nil, false
	}
	return values[idx[len(idx)-1]], true
}

// preferNonNull always skips nulls regardless of NullHandling — "include"
// only makes sense for strategies with a positional/selection semantics.
func preferNonNull(values []any, _ []SourceMeta, _ Options) (any, bool) {
	for _, v := range values {
		if !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

// preferNewer picks the value whose source record has the maximum
// timestamp. The merge executor is responsible for populating
// SourceMeta.UpdatedAt with the dateField override when opts.DateField is
// set; this function always compares SourceMeta.UpdatedAt. Falls back to
// preferNonNull semantics when every source has a zero timestamp.
func preferNewer(values []any, sources []SourceMeta, opts Options) (any, bool) {
	return preferByTime(values, sources, opts, true)
}

// preferOlder is the minimum-timestamp counterpart of preferNewer.
func preferOlder(values []any, sources []SourceMeta, opts Options) (any, bool) {
	return preferByTime(values, sources, opts, false)
}

func preferByTime(values []any, sources []SourceMeta, opts Options, newer bool) (any, bool) {
	idx := candidateIndices(values, opts)
	if len(idx) == 0 {
		return nil, false
	}

	anyTimestamp := false
	for _, i := range idx {
		if i < len(sources) && !sources[i].UpdatedAt.IsZero() {
			anyTimestamp = true
			break
		}
	}
	if !anyTimestamp {
		return preferNonNull(values, sources, opts)
	}

	best := idx[0]
	for _, i := range idx[1:] {
		var iNewer bool
		if i >= len(sources) || best >= len(sources) {
			continue
		}
		if newer {
			iNewer = sources[i].UpdatedAt.After(sources[best].UpdatedAt)
		} else {
			iNewer = sources[i].UpdatedAt.Before(sources[best].UpdatedAt)
		}
		if iNewer {
			best = i
		}
	}
	return values[best], true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func preferLonger(values []any, _ []SourceMeta, opts Options) (any, bool) {
	idx := candidateIndices(values, opts)
	best := -1
	bestLen := -1
	for _, i := range idx {
		l := len(stringify(values[i]))
		if l > bestLen {
			bestLen = l
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return values[best], true
}

func preferShorter(values []any, _ []SourceMeta, opts Options) (any, bool) {
	idx := candidateIndices(values, opts)
	best := -1
	bestLen := -1
	for _, i := range idx {
		s := stringify(values[i])
		if s == "" {
			continue // preferShorter ignores empty strings
		}
		l := len(s)
		if best == -1 || l < bestLen {
			bestLen = l
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return values[best], true
}

func concatenate(values []any, _ []SourceMeta, opts Options) (any, bool) {
	sep := opts.Separator
	if sep == "" {
		sep = ", "
	}
	var parts []string
	idx := candidateIndices(values, opts)
	for _, i := range idx {
		s := stringify(values[i])
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return nil, false
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out, true
}

// union merges array/scalar values into a single slice, preserving
// first-seen order and deduplicating by stringified value.
func union(values []any, _ []SourceMeta, opts Options) (any, bool) {
	seen := make(map[string]bool)
	var out []any
	idx := candidateIndices(values, opts)
	for _, i := range idx {
		v := values[i]
		var elems []any
		if arr, ok := v.([]any); ok {
			elems = arr
		} else {
			elems = []any{v}
		}
		for _, e := range elems {
			key := stringify(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// mostFrequent returns the modal value, ties broken by first occurrence.
func mostFrequent(values []any, _ []SourceMeta, opts Options) (any, bool) {
	idx := candidateIndices(values, opts)
	if len(idx) == 0 {
		return nil, false
	}
	counts := make(map[string]int)
	order := make(map[string]int)
	firstVal := make(map[string]any)
	for pos, i := range idx {
		key := stringify(values[i])
		if _, seen := order[key]; !seen {
			order[key] = pos
			firstVal[key] = values[i]
		}
		counts[key]++
	}
	bestKey := ""
	bestCount := -1
	bestOrder := -1
	for key, c := range counts {
		if c > bestCount || (c == bestCount && order[key] < bestOrder) {
			bestCount = c
			bestKey = key
			bestOrder = order[key]
		}
	}
	return firstVal[bestKey], true
}

func numericValues(values []any) []float64 {
	var out []float64
	for _, v := range values {
		switch t := v.(type) {
		case float64:
			out = append(out, t)
		case float32:
			out = append(out, float64(t))
		case int:
			out = append(out, float64(t))
		case int32:
			out = append(out, float64(t))
		case int64:
			out = append(out, float64(t))
		}
	}
	return out
}

func average(values []any, _ []SourceMeta, _ Options) (any, bool) {
	nums := numericValues(values)
	if len(nums) == 0 {
		return nil, false
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums)), true
}

func sum(values []any, _ []SourceMeta, _ Options) (any, bool) {
	nums := numericValues(values)
	if len(nums) == 0 {
		return nil, false
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total, true
}

func min_(values []any, _ []SourceMeta, _ Options) (any, bool) {
	nums := numericValues(values)
	if len(nums) == 0 {
		return nil, false
	}
	sort.Float64s(nums)
	return nums[0], true
}

func max_(values []any, _ []SourceMeta, _ Options) (any, bool) {
	nums := numericValues(values)
	if len(nums) == 0 {
		return nil, false
	}
	sort.Float64s(nums)
	return nums[len(nums)-1], true
}

func custom(values []any, sources []SourceMeta, opts Options) (any, bool) {
	if opts.CustomMerge == nil {
		return nil, false
	}
	return opts.CustomMerge(values, sources, opts)
}
