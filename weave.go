// Package weave renders text templates that mix fixed structural syntax
// (JSON braces, HTML tags, YAML indentation) with content produced by a
// generative text backend. The template owns the structure; the backend only
// produces content, which is escaped for the target format before it is
// placed into the output, so generated text can never corrupt the structure.
//
// Templates use Jinja-style syntax (via gonja) extended with a gen() function:
//
//	backend := weave.NewMockBackend(weave.WithMockResponse("hello"))
//	tmpl, err := weave.New(`{"greeting": {{ gen("a greeting for {name}") | json }}}`, backend)
//	out, err := tmpl.Render(ctx, map[string]any{"name": "Alice"})
//	// out: {"greeting": "hello"}
//
// # Rendering model
//
// A render runs in three phases. First the host engine evaluates the template
// once; every gen() call is not executed against the backend but instead
// compiles its prompt, records a pending generation call, and leaves a unique
// marker in the output skeleton. Second, all pending calls are dispatched to
// the backend concurrently and joined. Third, each marker is replaced exactly
// once with the backend's text, passed through the filter resolved for that
// call (explicit pipeline filter, else the template default, else raw).
//
// A render either fully succeeds with structurally valid output or fails with
// a single descriptive error; partial output is never returned.
//
// # Filters
//
// Escaping filters are pure functions registered once at startup: json, html,
// xml, yaml, raw, strip, lower, upper and truncate(n). They are applied to
// generated content after the backend responds, and are also available as
// ordinary template filters for non-generated expressions.
//
// # Backends
//
// Any implementation of the Backend interface can serve generation calls.
// HTTPBackend talks to an OpenAI-compatible chat completions API;
// MockBackend returns deterministic responses for tests.
//
// # Storage
//
// Template sources can be kept in a pluggable, versioned TemplateStorage
// (memory, filesystem, postgres) and rendered by name through a StorageEngine.
package weave
