package repositorycache

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// KindOf derives the entity tag kind for a model type: the singular
// snake_case form of its type name, so Task and Tasks both yield "task".
func KindOf[T any]() string {
	return inflection.Singular(snakeCase(reflect.TypeFor[T]().Name()))
}

// snakeCase lowercases s and separates words with underscores. Acronyms stay
// together (HTTPRoute is http_route) and anything that is not a letter or digit,
// such as the brackets of a generic instantiation, becomes a separator.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + 4)

	sep := false
	separate := func() {
		if b.Len() > 0 && !sep {
			b.WriteByte('_')
			sep = true
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			separate()
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				separate()
			}
		}
		b.WriteRune(unicode.ToLower(r))
		sep = false
	}
	return strings.TrimRight(b.String(), "_")
}
