package comparator

import "strings"

// Soundex compares the Soundex phonetic codes of two strings for equality
// (1 or 0). Options: NullMatchesNull, MaxCodeLength (default 4).
func Soundex(left, right any, opts Options) float64 {
	return phoneticEqual(left, right, opts, soundexCode)
}

// Metaphone compares the Metaphone phonetic codes of two strings for
// equality (1 or 0). Options: NullMatchesNull, MaxCodeLength (default 4).
func Metaphone(left, right any, opts Options) float64 {
	return phoneticEqual(left, right, opts, metaphoneCode)
}

func phoneticEqual(left, right any, opts Options, code func(string, int) string) float64 {
	if bothNull(left, right) {
		if opts.NullMatchesNull {
			return 1
		}
		return 0
	}
	if eitherNull(left, right) {
		return 0
	}

	maxLen := opts.MaxCodeLength
	if maxLen <= 0 {
		maxLen = 4
	}

	a := code(toStringValue(left), maxLen)
	b := code(toStringValue(right), maxLen)
	if a == b {
		return 1
	}
	return 0
}

// soundexCode implements the classic American Soundex algorithm, truncated
// (or zero-padded) to maxLen characters.
func soundexCode(s string, maxLen int) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	digit := func(c byte) byte {
		switch c {
		case 'B', 'F', 'P', 'V':
			return '1'
		case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
			return '2'
		case 'D', 'T':
			return '3'
		case 'L':
			return '4'
		case 'M', 'N':
			return '5'
		case 'R':
			return '6'
		default:
			return '0'
		}
	}

	var first byte
	firstIdx := -1
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			first = s[i]
			firstIdx = i
			break
		}
	}
	if firstIdx == -1 {
		return ""
	}

	code := []byte{first}
	lastDigit := digit(first)
	for i := firstIdx + 1; i < len(s) && len(code) < maxLen; i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			continue
		}
		if c == 'H' || c == 'W' {
			continue // H and W do not separate letters with the same code
		}
		d := digit(c)
		if d == '0' {
			lastDigit = '0'
			continue
		}
		if d != lastDigit {
			code = append(code, d)
		}
		lastDigit = d
	}
	for len(code) < maxLen {
		code = append(code, '0')
	}
	return string(code[:maxLen])
}

// metaphoneCode is a simplified Metaphone implementation sufficient for
// equality comparison of names and common words. It is not a drop-in for the
// full original algorithm's rule set, but it follows the same consonant
// grouping approach (drop vowels except leading, collapse duplicate
// consonants, map same-sounding clusters to a shared code).
func metaphoneCode(s string, maxLen int) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	isVowel := func(c byte) bool {
		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			return true
		default:
			return false
		}
	}

	var b strings.Builder
	runes := []byte(s)
	for i := 0; i < len(runes) && b.Len() < maxLen; i++ {
		c := runes[i]
		if c < 'A' || c > 'Z' {
			continue
		}
		if i > 0 && c == runes[i-1] && c != 'C' {
			continue // collapse duplicate consonants
		}
		switch {
		case isVowel(c):
			if i == 0 {
				b.WriteByte(c)
			}
		case c == 'C' && i+1 < len(runes) && runes[i+1] == 'H':
			b.WriteByte('X')
			i++
		case c == 'P' && i+1 < len(runes) && runes[i+1] == 'H':
			b.WriteByte('F')
			i++
		case c == 'T' && i+1 < len(runes) && runes[i+1] == 'H':
			b.WriteByte('0')
			i++
		case c == 'W' || c == 'H':
			if i == 0 {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}

	code := b.String()
	if len(code) > maxLen {
		code = code[:maxLen]
	}
	for len(code) < maxLen {
		code += "0"
	}
	return code
}
