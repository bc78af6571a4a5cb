package weave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGenSites_NoGenCalls(t *testing.T) {
	source := `Hello {{ name }} and {% if x %}{{ y | upper }}{% endif %}`
	out, sites, err := extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, source, out)
	assert.Empty(t, sites)
}

func TestExtractGenSites_StripsPipeline(t *testing.T) {
	out, sites, err := extractGenSites(`{{ gen("a title") | json }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("a title", __site=0) }}`, out)
	require.Len(t, sites, 1)
	require.Len(t, sites[0], 1)
	assert.Equal(t, FilterJSON, sites[0][0].Name)
	assert.Empty(t, sites[0][0].Args)
}

func TestExtractGenSites_MultipleSites(t *testing.T) {
	source := `{"a": {{ gen("x") | json }}, "b": {{ gen("y") | json }}}`
	out, sites, err := extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {{ gen("x", __site=0) }}, "b": {{ gen("y", __site=1) }}}`, out)
	assert.Len(t, sites, 2)
}

func TestExtractGenSites_PipelineChain(t *testing.T) {
	out, sites, err := extractGenSites(`{{ gen("x") | strip | truncate(16) }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("x", __site=0) }}`, out)
	require.Len(t, sites[0], 2)
	assert.Equal(t, FilterStrip, sites[0][0].Name)
	assert.Equal(t, FilterTruncate, sites[0][1].Name)
	assert.Equal(t, []string{"16"}, sites[0][1].Args)
}

func TestExtractGenSites_FilterArgsWithQuotes(t *testing.T) {
	_, sites, err := extractGenSites(`{{ gen("x") | truncate(8, '-') }}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "-"}, sites[0][0].Args)
}

func TestExtractGenSites_NoPipeline(t *testing.T) {
	out, sites, err := extractGenSites(`{{ gen("x") }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("x", __site=0) }}`, out)
	require.Contains(t, sites, 0)
	assert.Empty(t, sites[0])
}

func TestExtractGenSites_KeywordArgumentsPreserved(t *testing.T) {
	out, _, err := extractGenSites(`{{ gen("x", max_tokens=10) | json }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("x", max_tokens=10, __site=0) }}`, out)
}

func TestExtractGenSites_WhitespaceControlDelimiters(t *testing.T) {
	out, sites, err := extractGenSites(`{"a": {{- gen("x") | json -}} }`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {{- gen("x", __site=0) -}} }`, out)
	require.Len(t, sites[0], 1)
	assert.Equal(t, FilterJSON, sites[0][0].Name)

	out, _, err = extractGenSites(`{{ gen("x") | json -}}` + "\n")
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("x", __site=0) -}}`+"\n", out)
}

func TestExtractGenSites_CommentsSkipped(t *testing.T) {
	// An unmatched {{ inside a comment must not open an expression
	source := `{# note: {{ #}hello`
	out, sites, err := extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, source, out)
	assert.Empty(t, sites)

	source = `{# {{ gen("x") | json }} #}{{ gen("y") }}`
	out, sites, err = extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, `{# {{ gen("x") | json }} #}{{ gen("y", __site=0) }}`, out)
	assert.Len(t, sites, 1)
}

func TestExtractGenSites_RawBlockSkipped(t *testing.T) {
	source := `{% raw %}{{ gen("a") | json }}{% endraw %}`
	out, sites, err := extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, source, out)
	assert.Empty(t, sites)

	source = `{%- raw -%}{{ gen("a") }}{%- endraw -%}{{ gen("b") }}`
	out, sites, err = extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, `{%- raw -%}{{ gen("a") }}{%- endraw -%}{{ gen("b", __site=0) }}`, out)
	assert.Len(t, sites, 1)
}

func TestExtractGenSites_SubExpressionPassthrough(t *testing.T) {
	// gen() followed by anything but a pipeline is the host engine's business
	source := `{{ gen("x") ~ suffix }}`
	out, sites, err := extractGenSites(source)
	require.NoError(t, err)
	assert.Equal(t, source, out)
	assert.Empty(t, sites)
}

func TestExtractGenSites_BracesInsidePrompt(t *testing.T) {
	// A "}}" inside a string literal must not terminate the expression
	out, _, err := extractGenSites(`{{ gen("write }} here") }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("write }} here", __site=0) }}`, out)
}

func TestExtractGenSites_NestedParensInPrompt(t *testing.T) {
	out, _, err := extractGenSites(`{{ gen("f(x) = (1)") }}`)
	require.NoError(t, err)
	assert.Equal(t, `{{ gen("f(x) = (1)", __site=0) }}`, out)
}

func TestExtractGenSites_Errors(t *testing.T) {
	cases := []struct {
		name   string
		source string
		msg    string
	}{
		{"empty gen call", `{{ gen() }}`, ErrMsgGenPromptMissing},
		{"unbalanced parens", `{{ gen("x" }}`, ErrMsgUnbalancedGenCall},
		{"unterminated string", `{{ gen("x) }}`, ErrMsgUnterminatedString},
		{"unclosed expression", `{{ gen("x")`, ErrMsgUnclosedExpression},
		{"unknown filter", `{{ gen("x") | nope }}`, ErrMsgUnknownFilter},
		{"unbalanced filter parens", `{{ gen("x") | truncate(10 }}`, ErrMsgMalformedPipeline},
		{"empty filter name", `{{ gen("x") | json | }}`, ErrMsgEmptyFilterName},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := extractGenSites(tc.source)
			require.Error(t, err)
			assert.True(t, IsParseError(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestExtractGenSites_LineNumbers(t *testing.T) {
	source := "line one\nline two\n{{ gen() }}"
	_, _, err := extractGenSites(source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMsgGenPromptMissing)
}

func TestParseFilterSpec(t *testing.T) {
	spec, err := parseFilterSpec(" truncate(10, '...') ", 1)
	require.NoError(t, err)
	assert.Equal(t, FilterTruncate, spec.Name)
	assert.Equal(t, []string{"10", "..."}, spec.Args)

	spec, err = parseFilterSpec("json", 1)
	require.NoError(t, err)
	assert.Equal(t, FilterJSON, spec.Name)
	assert.Empty(t, spec.Args)

	_, err = parseFilterSpec("truncate(10", 1)
	require.Error(t, err)

	_, err = parseFilterSpec("not a name", 1)
	require.Error(t, err)
}

func TestUnquoteArgument(t *testing.T) {
	assert.Equal(t, "abc", unquoteArgument(`"abc"`))
	assert.Equal(t, "abc", unquoteArgument(`'abc'`))
	assert.Equal(t, `a"b`, unquoteArgument(`"a\"b"`))
	assert.Equal(t, `a\b`, unquoteArgument(`"a\\b"`))
	assert.Equal(t, "42", unquoteArgument("42"))
	assert.Equal(t, `"mismatch'`, unquoteArgument(`"mismatch'`))
}
