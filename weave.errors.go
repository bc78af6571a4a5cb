package weave

import (
	"errors"
	"strconv"
	"strings"

	"github.com/itsatony/go-cuserr"
)

// Error message constants - all error messages must be constants.
const (
	// Parse errors
	ErrMsgParseFailed        = "template compilation failed"
	ErrMsgUnbalancedGenCall  = "unbalanced arguments in gen() call"
	ErrMsgMalformedPipeline  = "malformed filter pipeline on gen() call"
	ErrMsgEmptyFilterName    = "filter name cannot be empty"
	ErrMsgUnterminatedString = "unterminated string literal in gen() call"
	ErrMsgUnclosedExpression = "unclosed template expression"

	// Render errors
	ErrMsgRenderFailed       = "template rendering failed"
	ErrMsgPromptVarMissing   = "prompt references a variable absent from the context"
	ErrMsgBadPromptRef       = "invalid variable reference in prompt"
	ErrMsgGenPromptMissing   = "gen() requires a prompt argument"
	ErrMsgGenPromptNotString = "gen() prompt must be a string"
	ErrMsgGenTooManyArgs     = "gen() accepts a single positional prompt argument"
	ErrMsgGenUnknownParam    = "unknown gen() parameter"
	ErrMsgGenBadParamType    = "invalid gen() parameter value"
	ErrMsgGenerationFailed   = "content generation failed"
	ErrMsgMarkerMissing      = "placeholder marker missing from rendered skeleton"
	ErrMsgMarkerDuplicated   = "placeholder marker appears more than once in skeleton"
	ErrMsgOutputNotJSON      = "rendered output is not valid JSON"
	ErrMsgOutputNotYAML      = "rendered output is not valid YAML"
	ErrMsgNilBackend         = "backend cannot be nil"
	ErrMsgEmptySource        = "template source cannot be empty"
	ErrMsgReadTemplateFile   = "failed to read template file"

	// Backend errors
	ErrMsgBackendCallFailed  = "generation backend call failed"
	ErrMsgBackendNoChoices   = "backend response contained no choices"
	ErrMsgBackendHTTPStatus  = "backend returned non-success status"
	ErrMsgBackendBadResponse = "failed to decode backend response"
	ErrMsgBackendNoModel     = "model name is required: pass Model or set " + EnvModel

	// Filter errors
	ErrMsgUnknownFilter      = "unknown filter"
	ErrMsgFilterFailed       = "filter application failed"
	ErrMsgFilterOnPending    = "escaping filter applied to pending generation output"
	ErrMsgTruncateBadLength  = "truncate length must be a positive integer"
	ErrMsgTruncateShortLimit = "truncate length must not be smaller than the suffix"
)

// Error code constants for categorization.
const (
	ErrCodeParse   = "WEAVE_PARSE"
	ErrCodeRender  = "WEAVE_RENDER"
	ErrCodeBackend = "WEAVE_BACKEND"
	ErrCodeFilter  = "WEAVE_FILTER"
	ErrCodeStorage = "WEAVE_STORAGE"
)

// Metadata key constants used on errors.
const (
	MetaKeyClass    = "error_class"
	MetaKeyLine     = "line"
	MetaKeyTemplate = "template"
	MetaKeyVariable = "variable"
	MetaKeyFilter   = "filter"
	MetaKeyParam    = "parameter"
	MetaKeyPrompt   = "prompt"
	MetaKeyMarker   = "marker"
	MetaKeyCallIdx  = "call_index"
	MetaKeyFailures = "failed_calls"
	MetaKeyStatus   = "status_code"
	MetaKeyModel    = "model"
	MetaKeyPath     = "path"
	MetaKeyOutput   = "output"
)

// Error class values stored under MetaKeyClass. Use the Is* helpers rather
// than matching these directly.
const (
	errClassParse   = "parse"
	errClassRender  = "render"
	errClassBackend = "backend"
	errClassFilter  = "filter"
)

// promptErrorLimit bounds how much prompt text is attached to error metadata.
const promptErrorLimit = 120

// NewParseError creates a template parse error. Parse errors are always
// raised before any backend interaction.
func NewParseError(msg string, line int, cause error) error {
	var err *cuserr.CustomError
	if cause != nil {
		err = cuserr.WrapStdError(cause, ErrCodeParse, msg)
	} else {
		err = cuserr.NewValidationError(ErrCodeParse, msg)
	}
	return err.
		WithMetadata(MetaKeyClass, errClassParse).
		WithMetadata(MetaKeyLine, strconv.Itoa(line))
}

// NewRenderError creates a render error wrapping an optional cause.
func NewRenderError(msg string, cause error) error {
	var err *cuserr.CustomError
	if cause != nil {
		err = cuserr.WrapStdError(cause, ErrCodeRender, msg)
	} else {
		err = cuserr.NewValidationError(ErrCodeRender, msg)
	}
	return err.WithMetadata(MetaKeyClass, errClassRender)
}

// NewStructuredOutputError creates a render error for output that failed to
// parse as the requested structured format. A truncated copy of the output
// is attached for diagnosis.
func NewStructuredOutputError(msg string, output string, cause error) error {
	return cuserr.WrapStdError(cause, ErrCodeRender, msg).
		WithMetadata(MetaKeyClass, errClassRender).
		WithMetadata(MetaKeyOutput, truncateForError(output))
}

// NewPromptVarMissingError creates a render error for a prompt that
// references a variable not present in the render context.
func NewPromptVarMissingError(name string) error {
	return cuserr.NewValidationError(ErrCodeRender, ErrMsgPromptVarMissing).
		WithMetadata(MetaKeyClass, errClassRender).
		WithMetadata(MetaKeyVariable, name)
}

// NewGenParamError creates a render error for an invalid gen() parameter.
func NewGenParamError(msg string, param string) error {
	return cuserr.NewValidationError(ErrCodeRender, msg).
		WithMetadata(MetaKeyClass, errClassRender).
		WithMetadata(MetaKeyParam, param)
}

// NewBackendCallError creates a backend error for one failed generation
// call, carrying the originating prompt identity.
func NewBackendCallError(prompt string, callIndex int, cause error) error {
	var err *cuserr.CustomError
	if cause != nil {
		err = cuserr.WrapStdError(cause, ErrCodeBackend, ErrMsgBackendCallFailed)
	} else {
		err = cuserr.NewInternalError(ErrMsgBackendCallFailed, nil)
	}
	return err.
		WithMetadata(MetaKeyClass, errClassBackend).
		WithMetadata(MetaKeyPrompt, truncateForError(prompt)).
		WithMetadata(MetaKeyCallIdx, strconv.Itoa(callIndex))
}

// NewBackendError creates a backend error not tied to a specific call.
func NewBackendError(msg string, cause error) error {
	var err *cuserr.CustomError
	if cause != nil {
		err = cuserr.WrapStdError(cause, ErrCodeBackend, msg)
	} else {
		err = cuserr.NewValidationError(ErrCodeBackend, msg)
	}
	return err.WithMetadata(MetaKeyClass, errClassBackend)
}

// NewGenerationFailedError aggregates the backend failures of one render
// into a single render error naming every failed prompt.
func NewGenerationFailedError(prompts []string, cause error) error {
	return cuserr.WrapStdError(cause, ErrCodeRender, ErrMsgGenerationFailed).
		WithMetadata(MetaKeyClass, errClassRender).
		WithMetadata(MetaKeyFailures, strings.Join(prompts, "; "))
}

// NewFilterError creates a filter error for an invalid argument or input.
func NewFilterError(filterName string, msg string, cause error) error {
	var err *cuserr.CustomError
	if cause != nil {
		err = cuserr.WrapStdError(cause, ErrCodeFilter, msg)
	} else {
		err = cuserr.NewValidationError(ErrCodeFilter, msg)
	}
	return err.
		WithMetadata(MetaKeyClass, errClassFilter).
		WithMetadata(MetaKeyFilter, filterName)
}

// NewUnknownFilterError creates an error for an unregistered filter name.
func NewUnknownFilterError(name string) error {
	return cuserr.NewNotFoundError(MetaKeyFilter, ErrMsgUnknownFilter).
		WithMetadata(MetaKeyClass, errClassFilter).
		WithMetadata(MetaKeyFilter, name)
}

// IsParseError reports whether err is a template parse error.
func IsParseError(err error) bool { return hasErrorClass(err, errClassParse) }

// IsRenderError reports whether err is a template render error. Backend and
// filter failures that aborted a render are wrapped in a render error, so
// IsRenderError holds for them at the outermost level.
func IsRenderError(err error) bool { return hasErrorClass(err, errClassRender) }

// IsBackendError reports whether err is, or wraps, a generation backend
// failure.
func IsBackendError(err error) bool { return hasErrorClass(err, errClassBackend) }

// IsFilterError reports whether err is, or wraps, a filter failure.
func IsFilterError(err error) bool { return hasErrorClass(err, errClassFilter) }

// hasErrorClass walks the wrap chain looking for a CustomError tagged with
// the given class.
func hasErrorClass(err error, class string) bool {
	for err != nil {
		var custom *cuserr.CustomError
		if !errors.As(err, &custom) {
			return false
		}
		if got, ok := custom.GetMetadata(MetaKeyClass); ok && got == class {
			return true
		}
		err = custom.Unwrap()
	}
	return false
}

// truncateForError bounds text attached to error metadata.
func truncateForError(text string) string {
	runes := []rune(text)
	if len(runes) <= promptErrorLimit {
		return text
	}
	return string(runes[:promptErrorLimit]) + "..."
}
