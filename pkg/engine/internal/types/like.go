package types

// MatchLike reports whether s matches the SQL LIKE pattern. '%' matches any
// sequence of characters, '_' matches exactly one character and a backslash
// escapes the following character.
func MatchLike(s, pattern string) bool {
	return matchLike([]rune(s), []rune(pattern))
}

func matchLike(s, p []rune) bool {
	// Position of the last '%' seen and the input position it was tried at,
	// used for backtracking.
	star, mark := -1, 0
	si, pi := 0, 0

	for si < len(s) {
		if pi < len(p) {
			switch c := p[pi]; {
			case c == '%':
				star, mark = pi, si
				pi++
				continue
			case c == '\\' && pi+1 < len(p):
				if s[si] == p[pi+1] {
					si, pi = si+1, pi+2
					continue
				}
			case c == '_' || c == s[si]:
				si, pi = si+1, pi+1
				continue
			}
		}
		if star < 0 {
			return false
		}
		mark++
		si, pi = mark, star+1
	}

	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
