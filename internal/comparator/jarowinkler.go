package comparator

// JaroWinkler computes Jaro similarity with a Winkler prefix bonus. Options:
// PrefixScale (default 0.1, clamped to [0,1]) and MaxPrefixLength (default 4).
func JaroWinkler(left, right any, opts Options) float64 {
	if bothNull(left, right) {
		if opts.NullMatchesNull {
			return 1
		}
		return 0
	}
	if eitherNull(left, right) {
		return 0
	}

	a := []rune(normalizeString(toStringValue(left), opts))
	b := []rune(normalizeString(toStringValue(right), opts))

	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	prefixScale := opts.PrefixScale
	if prefixScale <= 0 {
		prefixScale = 0.1
	}
	if prefixScale > 1 {
		prefixScale = 1
	}
	maxPrefix := opts.MaxPrefixLength
	if maxPrefix <= 0 {
		maxPrefix = 4
	}

	prefixLen := 0
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] != b[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*prefixScale*(1-jaro)
}

// jaroSimilarity computes the Jaro similarity of two rune slices.
func jaroSimilarity(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDist := maxInt(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := i - matchDist
		if start < 0 {
			start = 0
		}
		end := i + matchDist + 1
		if end > len(b) {
			end = len(b)
		}
		for j := start; j < end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions))/m) / 3
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
