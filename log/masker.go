/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"regexp"
	"strings"
)

// FieldMaskFormat defines how a secret field is laid out in the masked text.
type FieldMaskFormat string

// Field mask formats.
const (
	FieldMaskFormatHTTPHeader FieldMaskFormat = "http_header"
	FieldMaskFormatJSON       FieldMaskFormat = "json"
	FieldMaskFormatURLEncoded FieldMaskFormat = "urlencoded"
)

// MaskingRuleConfig is a configuration for a single masking rule.
type MaskingRuleConfig struct {
	Field   string            `mapstructure:"field"`
	Formats []FieldMaskFormat `mapstructure:"formats"`
	Masks   []MaskConfig      `mapstructure:"masks"`
}

// MaskConfig is a configuration for a single mask.
type MaskConfig struct {
	RegExp string `mapstructure:"regexp"`
	Mask   string `mapstructure:"mask"`
}

// DefaultMasks hide credentials that may appear in request targets, headers and bodies.
var DefaultMasks = []MaskingRuleConfig{
	{Field: "Authorization", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader}},
	{Field: "password", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "access_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "refresh_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "id_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "api_key", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
}

type mask struct {
	re   *regexp.Regexp
	repl string
}

type fieldMasker struct {
	field string // lowercase
	masks []mask
}

// Masker replaces secrets in strings according to a list of rules.
type Masker struct {
	fields []fieldMasker
}

// NewMasker compiles the rules into a Masker. It panics if a custom regexp is invalid.
func NewMasker(rules []MaskingRuleConfig) *Masker {
	m := &Masker{fields: make([]fieldMasker, 0, len(rules))}
	for _, rule := range rules {
		m.fields = append(m.fields, newFieldMasker(rule))
	}
	return m
}

func newFieldMasker(rule MaskingRuleConfig) fieldMasker {
	fm := fieldMasker{field: strings.ToLower(rule.Field)}
	for _, mc := range rule.Masks {
		fm.masks = append(fm.masks, mask{regexp.MustCompile(mc.RegExp), mc.Mask})
	}
	name := regexp.QuoteMeta(rule.Field)
	for _, format := range rule.Formats {
		switch format {
		case FieldMaskFormatHTTPHeader:
			fm.masks = append(fm.masks, mask{regexp.MustCompile(`(?i)` + name + `: .+?\r\n`), rule.Field + ": ***\r\n"})
		case FieldMaskFormatJSON:
			fm.masks = append(fm.masks, mask{regexp.MustCompile(`(?i)"` + name + `"\s*:\s*".*?[^\\]"`), `"` + rule.Field + `": "***"`})
		case FieldMaskFormatURLEncoded:
			fm.masks = append(fm.masks, mask{regexp.MustCompile(`(?i)` + name + `\s*=\s*[^&\s]+`), rule.Field + "=***"})
		}
	}
	return fm
}

// Mask returns s with every secret replaced.
func (m *Masker) Mask(s string) string {
	lower := strings.ToLower(s)
	for _, fm := range m.fields {
		if fm.field != "" && !strings.Contains(lower, fm.field) {
			continue
		}
		for _, mk := range fm.masks {
			s = mk.re.ReplaceAllString(s, mk.repl)
		}
	}
	return s
}
