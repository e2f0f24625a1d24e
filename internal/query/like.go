package query

import "strings"

// WildcardToLike translates a "*" and "?" wildcard mask into a LIKE pattern.
// Existing LIKE metacharacters are escaped with a backslash first.
func WildcardToLike(mask string) string {
	var b strings.Builder
	b.Grow(len(mask) + 8)
	for _, r := range mask {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeLike escapes LIKE metacharacters so that s matches only itself
func EscapeLike(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == '\\' || r == '%' || r == '_' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LikeMatch evaluates a LIKE pattern with backslash escapes against s
func LikeMatch(s, pattern string) bool {
	return likeRunes([]rune(s), compileLike(pattern))
}

type likeToken struct {
	r       rune
	any     bool // %
	oneChar bool // _
}

func compileLike(pattern string) []likeToken {
	var tokens []likeToken
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '\\' && i+1 < len(runes):
			i++
			tokens = append(tokens, likeToken{r: runes[i]})
		case r == '%':
			tokens = append(tokens, likeToken{any: true})
		case r == '_':
			tokens = append(tokens, likeToken{oneChar: true})
		default:
			tokens = append(tokens, likeToken{r: r})
		}
	}
	return tokens
}

func likeRunes(s []rune, tokens []likeToken) bool {
	// match[j] reports whether tokens[:j] matches the input consumed so far
	match := make([]bool, len(tokens)+1)
	match[0] = true
	for j := 1; j <= len(tokens) && tokens[j-1].any; j++ {
		match[j] = true
	}
	for _, r := range s {
		next := make([]bool, len(tokens)+1)
		for j := 1; j <= len(tokens); j++ {
			tok := tokens[j-1]
			switch {
			case tok.any:
				next[j] = next[j-1] || match[j]
			case tok.oneChar:
				next[j] = match[j-1]
			default:
				next[j] = match[j-1] && tok.r == r
			}
		}
		match = next
	}
	return match[len(tokens)]
}
