package httpserver

const (
	ErrInvalidBody      = "invalid body"
	ErrMissingID        = "missing id"
	ErrMissingFile      = "recipients file is required"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrInvalidSignature = "invalid signature"
	ErrForbidden        = "forbidden"
)
