// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// {any key} or @name. A braced key is any single-line text not starting with a space,
// so spreadsheet headers like {Nome Completo} or {first-name} work. @name keys start
// with a letter or underscore.
var placeholderRe = regexp.MustCompile(`\{([^{}\s@][^{}\n]*)\}|@([\p{L}_][\p{L}\p{N}_]*)`)

// RenderTemplate substitutes contact variables into template.
// Unknown placeholders render as empty strings; substituted values are never re-scanned.
func RenderTemplate(template string, data map[string]string) string {
	out, _ := RenderTemplateWithValues(template, data)
	return out
}

// RenderTemplateWithValues also returns the distinct non-empty values it substituted,
// in order of first appearance.
func RenderTemplateWithValues(template string, data map[string]string) (string, []string) {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	var (
		b      strings.Builder
		values []string
		seen   = map[string]bool{}
		last   int
	)
	b.Grow(len(template))
	for _, m := range matches {
		start, end := m[0], m[1]
		var name string
		if m[2] >= 0 {
			name = template[m[2]:m[3]]
		} else {
			// an @ glued to a word is an e-mail address or handle, not a placeholder
			if r, _ := utf8.DecodeLastRuneInString(template[:start]); start > 0 && isWordRune(r) {
				continue
			}
			name = template[m[4]:m[5]]
		}

		b.WriteString(template[last:start])
		v := data[name]
		b.WriteString(v)
		if v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
		last = end
	}
	b.WriteString(template[last:])
	return b.String(), values
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
