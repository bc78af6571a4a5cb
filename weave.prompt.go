package weave

import (
	"fmt"
	"strings"
)

// interpolatePrompt substitutes {name} references in a prompt string with
// values from the render variables. Doubled braces ({{ and }}) produce
// literal braces. A reference to a variable absent from the context is a
// render error; prompts sent to the backend never contain unresolved
// variable syntax.
func interpolatePrompt(prompt string, vars map[string]any) (string, error) {
	if !strings.ContainsAny(prompt, "{}") {
		return prompt, nil
	}

	var out strings.Builder
	out.Grow(len(prompt))

	for i := 0; i < len(prompt); {
		c := prompt[i]
		switch c {
		case '{':
			if i+1 < len(prompt) && prompt[i+1] == '{' {
				out.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(prompt[i:], '}')
			if end < 0 {
				return "", NewRenderError(ErrMsgBadPromptRef, nil)
			}
			name := prompt[i+1 : i+end]
			if !isPromptIdentifier(name) {
				return "", NewRenderError(ErrMsgBadPromptRef, nil)
			}
			value, ok := vars[name]
			if !ok {
				return "", NewPromptVarMissingError(name)
			}
			out.WriteString(fmt.Sprintf("%v", value))
			i += end + 1
		case '}':
			if i+1 < len(prompt) && prompt[i+1] == '}' {
				out.WriteByte('}')
				i += 2
				continue
			}
			return "", NewRenderError(ErrMsgBadPromptRef, nil)
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

// isPromptIdentifier reports whether name is a valid {name} reference:
// a letter or underscore followed by letters, digits or underscores.
func isPromptIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
