package calls

import "errors"

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidParticipants  = errors.New("caller and receiver must be different users")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("actor is not permitted to perform this action")
	ErrInvalidTransition    = errors.New("transition not allowed from current status")
	ErrConflict             = errors.New("call status changed concurrently")
	ErrDuplicateRoomID      = errors.New("duplicate room id")
	ErrCouldNotAllocateRoom = errors.New("could not allocate a unique room id")
)

// Kind maps an error to its taxonomy name. Unknown errors are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_request"
	case errors.Is(err, ErrInvalidParticipants):
		return "invalid_participants"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCouldNotAllocateRoom):
		return "could_not_allocate_room"
	default:
		return "internal"
	}
}
