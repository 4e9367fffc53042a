package security

import "strings"

// htmlEscaper maps the five HTML-significant characters to their named
// entities. The ampersand must be listed first conceptually, but
// strings.Replacer applies replacements in one pass so ordering is safe.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// SanitizeString escapes the HTML-significant characters in a string.
// Use it only on values destined for rendering or logging. Never apply it
// to values used as opaque tokens: escaping an access token or a code
// verifier corrupts the credential.
func SanitizeString(input string) string {
	return htmlEscaper.Replace(input)
}
