package weave

import (
	"context"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// RenderJSON renders the template and unmarshals the output into target,
// which must be a non-nil pointer. The rendered text must be valid JSON;
// templates producing JSON should set "json" as their default filter so
// generated content is escaped correctly.
func (t *Template) RenderJSON(ctx context.Context, vars map[string]any, target any) error {
	output, err := t.Render(ctx, vars)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(output), target); err != nil {
		return NewStructuredOutputError(ErrMsgOutputNotJSON, output, err)
	}
	return nil
}

// RenderYAML renders the template and unmarshals the output into target as
// YAML. Templates producing YAML should use the "yaml" default filter.
func (t *Template) RenderYAML(ctx context.Context, vars map[string]any, target any) error {
	output, err := t.Render(ctx, vars)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(output), target); err != nil {
		return NewStructuredOutputError(ErrMsgOutputNotYAML, output, err)
	}
	return nil
}
