package weave

import (
	"strconv"
	"strings"
)

// FilterSpec is one entry of a filter pipeline attached to a gen() call,
// e.g. truncate(16) parses to {Name: "truncate", Args: ["16"]}.
type FilterSpec struct {
	Name string
	Args []string
}

// extractGenSites runs the source pre-pass. It scans for expressions of the
// form {{ gen(...) | pipeline }}, strips the pipeline (which must apply to
// the generated content, not to the placeholder marker) and injects a call
// site id so each evaluation can be linked back to its pipeline:
//
//	{{ gen("a title for {topic}") | json }}
//	  becomes
//	{{ gen("a title for {topic}", __site=0) }}
//
// Expressions that do not start with a gen() call pass through untouched, as
// do comments, {% raw %} blocks, and gen() expressions followed by something
// other than a filter pipeline (the host engine evaluates those as ordinary
// sub-expressions). Whitespace-control delimiters ({{- and -}}) are
// recognized and preserved. Malformed gen() syntax (unbalanced arguments,
// unterminated strings, broken pipelines, unknown filter names) fails here,
// before any backend interaction.
func extractGenSites(source string) (string, map[int][]FilterSpec, error) {
	var out strings.Builder
	out.Grow(len(source))

	sites := make(map[int][]FilterSpec)
	siteIndex := 0
	line := 1

	for i := 0; i < len(source); {
		if strings.HasPrefix(source[i:], "{#") {
			span := commentSpan(source, i)
			out.WriteString(span)
			line += strings.Count(span, "\n")
			i += len(span)
			continue
		}
		if name, tagEnd, ok := blockTagAt(source, i); ok && name == "raw" {
			span := source[i:rawBlockEnd(source, tagEnd)]
			out.WriteString(span)
			line += strings.Count(span, "\n")
			i += len(span)
			continue
		}
		if !strings.HasPrefix(source[i:], "{{") {
			if source[i] == '\n' {
				line++
			}
			out.WriteByte(source[i])
			i++
			continue
		}

		exprStart := i + 2
		leftTrim := exprStart < len(source) && source[exprStart] == '-'
		if leftTrim {
			exprStart++
		}

		end, err := findExpressionEnd(source, exprStart, line)
		if err != nil {
			return "", nil, err
		}

		inner := source[exprStart:end]
		rightTrim := strings.HasSuffix(inner, "-")
		if rightTrim {
			inner = inner[:len(inner)-1]
		}
		trimmed := strings.TrimSpace(inner)
		if !strings.HasPrefix(trimmed, GenFunctionName+"(") {
			out.WriteString(source[i : end+2])
			line += strings.Count(inner, "\n")
			i = end + 2
			continue
		}

		args, rest, err := scanGenArguments(trimmed[len(GenFunctionName)+1:], line)
		if err != nil {
			return "", nil, err
		}
		if strings.TrimSpace(args) == "" {
			return "", nil, NewParseError(ErrMsgGenPromptMissing, line, nil)
		}

		// gen() used as a sub-expression of something larger is the host
		// engine's to evaluate; only a trailing filter pipeline is ours.
		if trailer := strings.TrimSpace(rest); trailer != "" && trailer[0] != '|' {
			out.WriteString(source[i : end+2])
			line += strings.Count(inner, "\n")
			i = end + 2
			continue
		}

		pipeline, err := parsePipeline(rest, line)
		if err != nil {
			return "", nil, err
		}
		sites[siteIndex] = pipeline

		out.WriteString("{{")
		if leftTrim {
			out.WriteByte('-')
		}
		out.WriteByte(' ')
		out.WriteString(GenFunctionName)
		out.WriteByte('(')
		out.WriteString(args)
		out.WriteString(", ")
		out.WriteString(siteParamName)
		out.WriteByte('=')
		out.WriteString(strconv.Itoa(siteIndex))
		out.WriteString(") ")
		if rightTrim {
			out.WriteByte('-')
		}
		out.WriteString("}}")

		siteIndex++
		line += strings.Count(inner, "\n")
		i = end + 2
	}

	return out.String(), sites, nil
}

// commentSpan returns the full {# ... #} span starting at i. An unterminated
// comment spans to the end of the source; the host engine reports it.
func commentSpan(source string, i int) string {
	close := strings.Index(source[i+2:], "#}")
	if close < 0 {
		return source[i:]
	}
	return source[i : i+2+close+2]
}

// blockTagAt reports whether a block tag ({% name ... %}) opens at i. It
// returns the tag name and the index just past the closing %}, tolerating
// whitespace-control markers on either delimiter.
func blockTagAt(source string, i int) (name string, end int, ok bool) {
	if !strings.HasPrefix(source[i:], "{%") {
		return "", 0, false
	}
	close := strings.Index(source[i+2:], "%}")
	if close < 0 {
		return "", 0, false
	}
	fields := strings.Fields(strings.Trim(source[i+2:i+2+close], "- \t\n"))
	if len(fields) == 0 {
		return "", 0, false
	}
	return fields[0], i + 2 + close + 2, true
}

// rawBlockEnd returns the index just past the {% endraw %} tag matching a raw
// block whose opening tag ends at from, or the end of the source when the
// block is unterminated.
func rawBlockEnd(source string, from int) int {
	for i := from; ; {
		next := strings.Index(source[i:], "{%")
		if next < 0 {
			return len(source)
		}
		i += next
		if name, end, ok := blockTagAt(source, i); ok && name == "endraw" {
			return end
		}
		i += 2
	}
}

// findExpressionEnd locates the closing }} of an expression opened at start,
// skipping over string literals so a "}}" inside a prompt does not terminate
// the expression early. Returns the index of the closing braces.
func findExpressionEnd(source string, start int, line int) (int, error) {
	for i := start; i < len(source); i++ {
		switch source[i] {
		case '\'', '"':
			end, ok := skipString(source, i)
			if !ok {
				return 0, NewParseError(ErrMsgUnterminatedString, line, nil)
			}
			i = end
		case '}':
			if i+1 < len(source) && source[i+1] == '}' {
				return i, nil
			}
		}
	}
	return 0, NewParseError(ErrMsgUnclosedExpression, line, nil)
}

// scanGenArguments consumes the argument list of a gen() call, starting just
// after the opening parenthesis. It returns the raw argument text and
// whatever follows the closing parenthesis (the candidate filter pipeline).
func scanGenArguments(s string, line int) (args string, rest string, err error) {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '"':
			end, ok := skipString(s, i)
			if !ok {
				return "", "", NewParseError(ErrMsgUnterminatedString, line, nil)
			}
			i = end
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[:i], s[i+1:], nil
			}
		}
	}
	return "", "", NewParseError(ErrMsgUnbalancedGenCall, line, nil)
}

// parsePipeline parses the trailing filter pipeline of a gen() expression:
// "| json", "| strip | truncate(16)" and so on. An empty rest means no
// pipeline. Unknown filter names fail at parse time so structural errors
// surface before any generation cost is incurred.
func parsePipeline(rest string, line int) ([]FilterSpec, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, nil
	}
	if rest[0] != '|' {
		return nil, NewParseError(ErrMsgMalformedPipeline, line, nil)
	}

	var pipeline []FilterSpec
	for _, segment := range splitTopLevel(rest[1:], '|') {
		spec, err := parseFilterSpec(segment, line)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, spec)
	}
	return pipeline, nil
}

// parseFilterSpec parses one pipeline entry: an identifier with an optional
// parenthesized argument list.
func parseFilterSpec(segment string, line int) (FilterSpec, error) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return FilterSpec{}, NewParseError(ErrMsgEmptyFilterName, line, nil)
	}

	name := segment
	var args []string
	if open := strings.IndexByte(segment, '('); open >= 0 {
		if !strings.HasSuffix(segment, ")") {
			return FilterSpec{}, NewParseError(ErrMsgMalformedPipeline, line, nil)
		}
		name = strings.TrimSpace(segment[:open])
		inner := segment[open+1 : len(segment)-1]
		for _, arg := range splitTopLevel(inner, ',') {
			arg = strings.TrimSpace(arg)
			if arg == "" {
				continue
			}
			args = append(args, unquoteArgument(arg))
		}
	}

	if !isPromptIdentifier(name) {
		return FilterSpec{}, NewParseError(ErrMsgMalformedPipeline, line, nil)
	}
	if !HasFilter(name) {
		return FilterSpec{}, NewParseError(ErrMsgUnknownFilter, line, NewUnknownFilterError(name))
	}
	return FilterSpec{Name: name, Args: args}, nil
}

// splitTopLevel splits s on sep, ignoring separators inside string literals
// or parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '"':
			if end, ok := skipString(s, i); ok {
				i = end
			}
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// skipString advances over a string literal starting at index i (which must
// hold the opening quote). Returns the index of the closing quote, honoring
// backslash escapes, and whether the literal was terminated.
func skipString(s string, i int) (int, bool) {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j, true
		}
	}
	return 0, false
}

// unquoteArgument strips surrounding quotes from a filter argument and
// resolves backslash escapes of the quote character and backslash itself.
func unquoteArgument(arg string) string {
	if len(arg) < 2 {
		return arg
	}
	quote := arg[0]
	if (quote != '\'' && quote != '"') || arg[len(arg)-1] != quote {
		return arg
	}
	inner := arg[1 : len(arg)-1]
	var out strings.Builder
	out.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) &&
			(inner[i+1] == quote || inner[i+1] == '\\') {
			i++
		}
		out.WriteByte(inner[i])
	}
	return out.String()
}
