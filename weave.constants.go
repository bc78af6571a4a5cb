package weave

import "time"

// Generation call syntax constants.
const (
	// GenFunctionName is the template function that defers content generation.
	GenFunctionName = "gen"

	// markerPrefix starts every placeholder marker left in the skeleton.
	// Combined with a per-render random nonce it cannot collide with any
	// literal text a template author could produce.
	markerPrefix = "__weave_"
	markerSuffix = "__"

	// siteParamName is the reserved keyword argument injected by the source
	// pre-pass to link a gen() evaluation back to its call site.
	siteParamName = "__site"

	// noSite marks a generation call whose source position carries no
	// extracted filter pipeline.
	noSite = -1
)

// Per-call generation parameter names accepted by gen().
const (
	ParamMaxTokens   = "max_tokens"
	ParamTemperature = "temperature"
	ParamStop        = "stop"
	ParamFilter      = "filter"
)

// Filter names - the registry is populated once at init and never mutated.
const (
	FilterJSON     = "json"
	FilterHTML     = "html"
	FilterXML      = "xml"
	FilterYAML     = "yaml"
	FilterRaw      = "raw"
	FilterStrip    = "strip"
	FilterLower    = "lower"
	FilterUpper    = "upper"
	FilterTruncate = "truncate"
)

// Truncate filter defaults, matching the documented contract:
// truncate(n) cuts to at most n runes including the suffix and appends the
// suffix when anything was removed.
const (
	TruncateDefaultLength = 255
	TruncateDefaultSuffix = "..."
)

// Template file extension convention. A compound extension names the target
// format directly before the template suffix, e.g. "report.json.weave".
const (
	TemplateFileExt = ".weave"
)

// Environment variable fallbacks for the HTTP backend.
const (
	EnvModel   = "WEAVE_MODEL"
	EnvAPIKey  = "WEAVE_API_KEY"
	EnvBaseURL = "WEAVE_BASE_URL"
)

// HTTP backend defaults.
const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultRequestTimeout = 120 * time.Second
	chatCompletionsPath   = "/chat/completions"
)

// DefaultSystemInstruction steers chat models toward literal, single-item
// answers so generated fragments slot cleanly into structured output.
const DefaultSystemInstruction = "You are a content generator for structured output. " +
	"Return ONLY the literal content requested. " +
	"Do not provide multiple options, alternatives, explanations, or meta-commentary. " +
	"If the request uses singular form (e.g., 'a title', 'a name'), return exactly one item. " +
	"If the request specifies a quantity or length, match it exactly. " +
	"Do not add formatting, numbering, or markdown unless explicitly requested in the prompt. " +
	"Be direct and literal."

// Storage driver names.
const (
	StorageDriverNameMemory     = "memory"
	StorageDriverNameFilesystem = "filesystem"
	StorageDriverNamePostgres   = "postgres"
)

// Filesystem storage constants.
const (
	FilesystemDirPermissions  = 0o755
	FilesystemFilePermissions = 0o644
)

// Postgres storage defaults.
const (
	PostgresTablePrefix            = "weave_"
	PostgresDefaultMaxOpenConns    = 25
	PostgresDefaultMaxIdleConns    = 5
	PostgresDefaultConnMaxLifetime = 5 * time.Minute
	PostgresDefaultConnMaxIdleTime = 5 * time.Minute
	PostgresDefaultQueryTimeout    = 30 * time.Second
)
