package transform

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultPrefixes lists properties that still need vendor-prefixed copies in
// the last two versions of the major browsers.
var DefaultPrefixes = map[string][]string{
	"appearance":       {"-webkit-", "-moz-"},
	"backdrop-filter":  {"-webkit-"},
	"clip-path":        {"-webkit-"},
	"hyphens":          {"-webkit-", "-ms-"},
	"mask-image":       {"-webkit-"},
	"tab-size":         {"-moz-"},
	"text-size-adjust": {"-webkit-", "-moz-", "-ms-"},
	"user-select":      {"-webkit-", "-moz-", "-ms-"},
}

// valuePrefixes covers the few values that need a prefixed twin.
var valuePrefixes = map[string]map[string]string{
	"position": {"sticky": "-webkit-sticky"},
}

// Prefixer inserts vendor-prefixed declarations in front of the standard
// ones. Output is not cascaded: prefixed copies are not aligned.
type Prefixer struct {
	table map[string][]string
	decl  *regexp.Regexp
}

// NewPrefixer builds a prefixer for the given property table; nil uses
// DefaultPrefixes.
func NewPrefixer(table map[string][]string) *Prefixer {
	if table == nil {
		table = DefaultPrefixes
	}
	props := make([]string, 0, len(table)+len(valuePrefixes))
	for p := range table {
		props = append(props, regexp.QuoteMeta(p))
	}
	for p := range valuePrefixes {
		if _, ok := table[p]; !ok {
			props = append(props, regexp.QuoteMeta(p))
		}
	}
	// Longest first so a property never matches as the prefix of another.
	sort.Slice(props, func(i, j int) bool { return len(props[i]) > len(props[j]) })

	// The leading delimiter stands in for a lookbehind: a property only
	// counts when it starts a declaration, so "-webkit-user-select" is left
	// alone.
	pattern := `([{;\s])(` + strings.Join(props, "|") + `)(\s*:\s*)([^;{}]*)`
	return &Prefixer{table: table, decl: regexp.MustCompile(pattern)}
}

// Prefix returns css with prefixed declarations added.
func (p *Prefixer) Prefix(css []byte) ([]byte, error) {
	out := p.decl.ReplaceAllFunc(css, func(match []byte) []byte {
		m := p.decl.FindSubmatch(match)
		lead, prop, sep, value := string(m[1]), string(m[2]), string(m[3]), string(m[4])

		var b strings.Builder
		b.WriteString(lead)
		for _, vendor := range p.table[prop] {
			b.WriteString(vendor + prop + sep + value + ";" + whitespaceAfter(lead))
		}
		if twins, ok := valuePrefixes[prop]; ok {
			trimmed := strings.TrimSpace(value)
			if twin, ok := twins[trimmed]; ok {
				b.WriteString(prop + sep + twin + ";" + whitespaceAfter(lead))
			}
		}
		b.WriteString(prop + sep + value)
		return []byte(b.String())
	})
	return out, nil
}

// whitespaceAfter separates prefixed copies the same way the original
// declaration was separated from what came before it.
func whitespaceAfter(lead string) string {
	if strings.TrimSpace(lead) == "" {
		return lead
	}
	return ""
}
