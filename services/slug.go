package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const slugMaxLength = 15

// letters that have no decomposition into an ASCII base
var transliterate = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"ł", "l",
	"đ", "d",
	"ð", "d",
	"þ", "th",
	"ı", "i",
)

// Slugify turns a dashboard name into its URL form: lower-case ASCII words
// joined by dashes, at most slugMaxLength long.
func Slugify(name string) string {
	lower := transliterate.Replace(strings.ToLower(name))
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), lower)
	if err != nil {
		folded = lower
	}

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}

	slug := b.String()
	if len(slug) > slugMaxLength {
		slug = strings.TrimRight(slug[:slugMaxLength], "-")
	}
	return slug
}
