package result

// Code classifies a failure so callers can map it without parsing messages.
type Code string

const (
	CodeValidation   Code = "validation"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeLocked       Code = "locked"
	CodeNotFound     Code = "not_found"
	CodeInternal     Code = "internal"

	CodeTokenMalformed Code = "token_malformed"
	CodeTokenSignature Code = "token_signature"
	CodeTokenExpired   Code = "token_expired"
	CodeTokenIssuer    Code = "token_issuer"
	CodeTokenAudience  Code = "token_audience"
	CodeTokenClaims    Code = "token_claims"
)

// Result is a tagged outcome: either a success carrying optional data and
// message, or a failure carrying a message, code and field errors.
type Result[T any] struct {
	ok               bool
	data             T
	message          string
	code             Code
	validationErrors []string
}

// Option decorates a failure.
type Option func(*failure)

type failure struct {
	code   Code
	errors []string
}

// WithCode attaches a failure classification.
func WithCode(code Code) Option {
	return func(f *failure) { f.code = code }
}

// WithValidationErrors attaches field-level validation messages.
func WithValidationErrors(errs ...string) Option {
	return func(f *failure) { f.errors = append(f.errors, errs...) }
}

// Success builds a successful result with data.
func Success[T any](data T, message string) Result[T] {
	return Result[T]{ok: true, data: data, message: message}
}

// Message builds a successful result without data.
func Message[T any](message string) Result[T] {
	return Result[T]{ok: true, message: message}
}

// Failure builds a failed result.
func Failure[T any](message string, opts ...Option) Result[T] {
	var f failure
	for _, opt := range opts {
		opt(&f)
	}
	return Result[T]{message: message, code: f.code, validationErrors: f.errors}
}

func (r Result[T]) OK() bool        { return r.ok }
func (r Result[T]) Data() T         { return r.data }
func (r Result[T]) Message() string { return r.message }

// Code is empty for successes.
func (r Result[T]) Code() Code { return r.code }

// ValidationErrors returns a copy of the field errors, nil on success.
func (r Result[T]) ValidationErrors() []string {
	if len(r.validationErrors) == 0 {
		return nil
	}
	out := make([]string, len(r.validationErrors))
	copy(out, r.validationErrors)
	return out
}

// Recast converts a failure into a failure of another payload type,
// preserving message, code and validation errors. Successes lose their data.
func Recast[U, T any](r Result[T]) Result[U] {
	return Result[U]{ok: r.ok, message: r.message, code: r.code, validationErrors: r.ValidationErrors()}
}
