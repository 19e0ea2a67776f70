// internal/model/contact.go
package model

import "strings"

// Contact is one row of an uploaded contact list: variable name -> value.
type Contact map[string]string

var phoneKeys = []string{"phone", "telefone", "numero", "whatsapp", "celular"}

// Phone returns the destination number, digits only.
func (c Contact) Phone() string {
	for _, k := range phoneKeys {
		if v, ok := c[k]; ok && strings.TrimSpace(v) != "" {
			return NormalizePhone(v)
		}
	}
	return ""
}

// NormalizePhone strips everything except digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
