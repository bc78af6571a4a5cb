package weave

import (
	"bytes"
	"encoding/json"
	"html"
	"sort"
	"strconv"
	"strings"
)

// FilterFunc is a pure transformation applied to generated content before it
// is substituted into the output. Filters must be total over arbitrary input
// text; the only permitted failure is rejecting an invalid argument.
type FilterFunc func(value string, args ...string) (string, error)

// builtinFilters is the process-wide filter registry. It is fully populated
// here and never mutated afterwards, so concurrent renders read it without
// synchronization.
var builtinFilters = map[string]FilterFunc{
	FilterJSON:     jsonFilter,
	FilterHTML:     htmlFilter,
	FilterXML:      xmlFilter,
	FilterYAML:     yamlFilter,
	FilterRaw:      rawFilter,
	FilterStrip:    stripFilter,
	FilterLower:    lowerFilter,
	FilterUpper:    upperFilter,
	FilterTruncate: truncateFilter,
}

// LookupFilter returns the registered filter for name.
func LookupFilter(name string) (FilterFunc, bool) {
	fn, ok := builtinFilters[name]
	return fn, ok
}

// HasFilter reports whether a filter with the given name is registered.
func HasFilter(name string) bool {
	_, ok := builtinFilters[name]
	return ok
}

// FilterNames returns all registered filter names in sorted order.
func FilterNames() []string {
	names := make([]string, 0, len(builtinFilters))
	for name := range builtinFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyFilter applies the named filter to value.
// Returns an error for unknown filter names or invalid arguments.
func ApplyFilter(name string, value string, args ...string) (string, error) {
	fn, ok := builtinFilters[name]
	if !ok {
		return "", NewUnknownFilterError(name)
	}
	return fn(value, args...)
}

// jsonFilter produces a complete double-quoted JSON string literal. The
// output is assignable directly as a JSON value.
func jsonFilter(value string, _ ...string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", NewFilterError(FilterJSON, ErrMsgFilterFailed, err)
	}
	// Encode appends a newline after the literal.
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// htmlFilter escapes &, <, >, " and ' to entities.
func htmlFilter(value string, _ ...string) (string, error) {
	return html.EscapeString(value), nil
}

// xmlReplacer escapes the same character class as html, with XML entity
// names. The ampersand must be replaced first.
var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// xmlFilter escapes text for placement inside XML content or attributes.
func xmlFilter(value string, _ ...string) (string, error) {
	return xmlReplacer.Replace(value), nil
}

// yamlScalarEscaper escapes characters inside a double-quoted YAML scalar.
var yamlScalarEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// yamlFilter produces a YAML-safe scalar, double-quoting whenever the text
// contains characters significant to YAML block or flow scalars.
func yamlFilter(value string, _ ...string) (string, error) {
	if yamlNeedsQuoting(value) {
		return `"` + yamlScalarEscaper.Replace(value) + `"`, nil
	}
	return value, nil
}

// yamlNeedsQuoting reports whether a plain scalar would be unsafe or change
// meaning when parsed as YAML.
func yamlNeedsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\t") ||
		strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\t") {
		return true
	}
	if strings.ContainsAny(s, "\n:#") {
		return true
	}
	if strings.HasPrefix(s, "-") {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "yes", "no", "on", "off":
		return true
	}
	if s[0] >= '0' && s[0] <= '9' {
		return true
	}
	return false
}

// rawFilter is the identity transformation. It provides no escaping and can
// break the output format; use only when the content is known to be safe.
func rawFilter(value string, _ ...string) (string, error) {
	return value, nil
}

// stripFilter removes leading and trailing whitespace.
func stripFilter(value string, _ ...string) (string, error) {
	return strings.TrimSpace(value), nil
}

func lowerFilter(value string, _ ...string) (string, error) {
	return strings.ToLower(value), nil
}

func upperFilter(value string, _ ...string) (string, error) {
	return strings.ToUpper(value), nil
}

// truncateFilter cuts value to at most n runes, counting the suffix toward
// the limit. Truncation is rune-based so multi-byte sequences are never
// corrupted. Arguments: truncate(n) or truncate(n, suffix); n defaults to
// 255 and suffix to "...". Text already within the limit is returned
// unchanged, with no suffix appended.
func truncateFilter(value string, args ...string) (string, error) {
	length := TruncateDefaultLength
	suffix := TruncateDefaultSuffix

	if len(args) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || n <= 0 {
			return "", NewFilterError(FilterTruncate, ErrMsgTruncateBadLength, err)
		}
		length = n
	}
	if len(args) > 1 {
		suffix = args[1]
	}

	suffixRunes := []rune(suffix)
	if length < len(suffixRunes) {
		return "", NewFilterError(FilterTruncate, ErrMsgTruncateShortLimit, nil)
	}

	runes := []rune(value)
	if len(runes) <= length {
		return value, nil
	}
	return string(runes[:length-len(suffixRunes)]) + suffix, nil
}
