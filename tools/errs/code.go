package errs

// Gateway error space. Codes travel to the client inside *-error frames,
// so they stay stable across releases.
const (
	AuthInvalidError     = 1101 // bad/expired/malformed credential
	ForbiddenError       = 1102 // authenticated but not entitled to the room
	NotFoundError        = 1103 // unknown connection/room/conversation
	AlreadyExistsError   = 1104 // duplicate connection registration
	DeliveryPartialError = 1105 // some fanout targets unreachable
	ArgsError            = 1201 // malformed client frame / request body
	ServerInternalError  = 1500
)

var (
	ErrAuthInvalid     = NewCodeError(AuthInvalidError, "auth invalid")
	ErrForbidden       = NewCodeError(ForbiddenError, "forbidden")
	ErrNotFound        = NewCodeError(NotFoundError, "not found")
	ErrAlreadyExists   = NewCodeError(AlreadyExistsError, "already exists")
	ErrDeliveryPartial = NewCodeError(DeliveryPartialError, "partial delivery")
	ErrArgs            = NewCodeError(ArgsError, "bad request args")
	ErrInternal        = NewCodeError(ServerInternalError, "server internal error")
)
