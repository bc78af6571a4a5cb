package weave

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderJSON(t *testing.T) {
	backend := NewMockBackend(WithMockResponse(`a "quoted" answer`))
	tmpl, err := New(
		`{"summary": {{ gen("summarize {topic}") }}, "topic": "{{ topic }}"}`,
		backend,
		WithDefaultFilter(FilterJSON),
	)
	require.NoError(t, err)

	var doc struct {
		Summary string `json:"summary"`
		Topic   string `json:"topic"`
	}
	require.NoError(t, tmpl.RenderJSON(context.Background(), map[string]any{"topic": "caching"}, &doc))
	assert.Equal(t, `a "quoted" answer`, doc.Summary)
	assert.Equal(t, "caching", doc.Topic)
}

func TestRenderJSON_InvalidOutput(t *testing.T) {
	// Raw filter lets the unescaped quote break the document.
	backend := NewMockBackend(WithMockResponse(`broken " content`))
	tmpl, err := New(`{"v": "{{ gen("p") | raw }}"}`, backend)
	require.NoError(t, err)

	var doc map[string]any
	err = tmpl.RenderJSON(context.Background(), nil, &doc)
	require.Error(t, err)
	assert.True(t, IsRenderError(err))
	assert.Contains(t, err.Error(), ErrMsgOutputNotJSON)
}

func TestRenderJSON_RenderErrorPassesThrough(t *testing.T) {
	boom := errors.New("backend down")
	backend := NewMockBackend(WithMockResponseFn(func(string) (string, error) {
		return "", boom
	}))
	tmpl, err := New(`{{ gen("p") }}`, backend)
	require.NoError(t, err)

	var doc any
	err = tmpl.RenderJSON(context.Background(), nil, &doc)
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, err.Error(), ErrMsgOutputNotJSON)
}

func TestRenderYAML(t *testing.T) {
	backend := NewMockBackend(WithMockResponse("multi: looking\nvalue"))
	tmpl, err := New("summary: {{ gen(\"p\") }}\ncount: {{ count }}", backend,
		WithDefaultFilter(FilterYAML))
	require.NoError(t, err)

	var doc struct {
		Summary string `yaml:"summary"`
		Count   int    `yaml:"count"`
	}
	require.NoError(t, tmpl.RenderYAML(context.Background(), map[string]any{"count": 7}, &doc))
	assert.Equal(t, "multi: looking\nvalue", doc.Summary)
	assert.Equal(t, 7, doc.Count)
}

func TestRenderYAML_InvalidOutput(t *testing.T) {
	backend := NewMockBackend(WithMockResponse("x: [unclosed"))
	tmpl, err := New(`{{ gen("p") | raw }}`, backend)
	require.NoError(t, err)

	var doc map[string]any
	err = tmpl.RenderYAML(context.Background(), nil, &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMsgOutputNotYAML)
}
