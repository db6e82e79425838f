// Package personalize implements {{token}} template substitution for bulk
// campaigns.
package personalize

import (
	"regexp"
	"strings"
)

// Recipient is one bulk-campaign target with its personalization attributes.
type Recipient struct {
	JID          string `json:"jid"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Company      string `json:"company,omitempty"`
	Position     string `json:"position,omitempty"`
	CustomField1 string `json:"customField1,omitempty"`
	CustomField2 string `json:"customField2,omitempty"`
}

// TokenInfo describes an available personalization token.
type TokenInfo struct {
	Token       string `json:"token"`
	Description string `json:"description"`
}

// Tokens returns the advertised token list.
func Tokens() []TokenInfo {
	return []TokenInfo{
		{Token: "{{name}}", Description: "Contact name"},
		{Token: "{{phone}}", Description: "Contact phone number"},
		{Token: "{{email}}", Description: "Contact email address"},
		{Token: "{{company}}", Description: "Contact company"},
		{Token: "{{position}}", Description: "Contact position"},
		{Token: "{{customField1}}", Description: "Custom field 1"},
		{Token: "{{customField2}}", Description: "Custom field 2"},
	}
}

func (r Recipient) attributes() map[string]string {
	return map[string]string{
		"name":         r.Name,
		"phone":        r.Phone,
		"email":        r.Email,
		"company":      r.Company,
		"position":     r.Position,
		"customField1": r.CustomField1,
		"customField2": r.CustomField2,
	}
}

// tokenOrder keeps substitution deterministic.
var tokenOrder = []string{"name", "phone", "email", "company", "position", "customField1", "customField2"}

// Apply substitutes every occurrence of each recognized token with the
// recipient's attribute. A token whose attribute is absent or empty is left
// literal rather than replaced with blank text.
func Apply(template string, r Recipient) string {
	attrs := r.attributes()
	out := template
	for _, name := range tokenOrder {
		value := attrs[name]
		if value == "" {
			continue
		}
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}

var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Detect extracts token names from a template, trimmed, deduplicated, in
// first-occurrence order. Unknown token names are reported too; the caller
// decides what to do with them.
func Detect(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range tokenPattern.FindAllStringSubmatch(template, -1) {
		name := strings.TrimSpace(match[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
