package weave

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilBackend(t *testing.T) {
	_, err := New("hello", nil)
	require.Error(t, err)
	assert.True(t, IsRenderError(err))
	assert.Contains(t, err.Error(), ErrMsgNilBackend)
}

func TestNew_UnknownDefaultFilter(t *testing.T) {
	_, err := New("hello", NewMockBackend(), WithDefaultFilter("sparkle"))
	require.Error(t, err)
	assert.True(t, IsFilterError(err))
}

func TestNew_ParseFailures(t *testing.T) {
	cases := map[string]string{
		"unclosed expression":  `{{ gen("x")`,
		"unterminated string":  `{{ gen("x) }}`,
		"unknown filter":       `{{ gen("x") | sparkle }}`,
		"invalid host syntax":  `{% if %}{% endif %}`,
		"unclosed block":       `{% for x in items %}{{ x }}`,
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(source, NewMockBackend())
			require.Error(t, err)
			assert.True(t, IsParseError(err), "source %q: %v", source, err)
		})
	}
}

func TestNew_Accessors(t *testing.T) {
	source := `v: {{ gen("p") }}`
	tmpl, err := New(source, NewMockBackend(),
		WithName("report"),
		WithDefaultFilter(FilterYAML),
	)
	require.NoError(t, err)
	assert.Equal(t, "report", tmpl.Name())
	assert.Equal(t, source, tmpl.Source())
	assert.Equal(t, FilterYAML, tmpl.DefaultFilter())
}

func TestMustNew(t *testing.T) {
	assert.NotPanics(t, func() {
		MustNew(`{{ gen("ok") }}`, NewMockBackend())
	})
	assert.Panics(t, func() {
		MustNew(`{{ gen( }}`, NewMockBackend())
	})
}

func TestFromFile(t *testing.T) {
	t.Run("reads and renders", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "greeting.weave")
		require.NoError(t, os.WriteFile(path, []byte(`hi {{ gen("p") }}`), 0o644))

		tmpl, err := FromFile(path, NewMockBackend())
		require.NoError(t, err)
		assert.Equal(t, "greeting.weave", tmpl.Name())

		out, err := tmpl.Render(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "hi [MOCK: p]", out)
	})

	t.Run("infers default filter from name", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "report.json.weave")
		require.NoError(t, os.WriteFile(path, []byte(`{"v": {{ gen("p") }}}`), 0o644))

		tmpl, err := FromFile(path, NewMockBackend())
		require.NoError(t, err)
		assert.Equal(t, FilterJSON, tmpl.DefaultFilter())
	})

	t.Run("explicit filter wins over inference", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "report.json.weave")
		require.NoError(t, os.WriteFile(path, []byte(`x`), 0o644))

		tmpl, err := FromFile(path, NewMockBackend(), WithDefaultFilter(FilterRaw))
		require.NoError(t, err)
		assert.Equal(t, FilterRaw, tmpl.DefaultFilter())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "absent.weave"), NewMockBackend())
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrMsgReadTemplateFile)
	})
}

func TestDetectDefaultFilter(t *testing.T) {
	cases := map[string]string{
		"report.json.weave":   FilterJSON,
		"page.html.weave":     FilterHTML,
		"page.htm.weave":      FilterHTML,
		"feed.xml.weave":      FilterXML,
		"config.yaml.weave":   FilterYAML,
		"config.yml.weave":    FilterYAML,
		"plain.weave":         "",
		"noext":               "",
		"dir.json/plain.weave": "",
	}
	for path, want := range cases {
		assert.Equal(t, want, DetectDefaultFilter(path), "path %q", path)
	}
}
