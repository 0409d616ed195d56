package confirm

import "errors"

var (
	ErrNotFound        = errors.New("confirmation not found")
	ErrAlreadyResolved = errors.New("confirmation already resolved")
	ErrExpired         = errors.New("confirmation expired")
	ErrRejected        = errors.New("confirmation rejected")
	ErrInvalidRequest  = errors.New("confirmation request needs user and chat")
)

// UserMessage turns a manager error into text that can be shown to the
// person who answered the prompt. Unknown errors get a neutral message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "I couldn't find that request. It may have been replaced by a newer one."
	case errors.Is(err, ErrAlreadyResolved):
		return "That request was already answered, so nothing was done twice."
	case errors.Is(err, ErrExpired):
		return "That request timed out. Please send the command again."
	case errors.Is(err, ErrRejected):
		return "Cancelled. Nothing was changed."
	default:
		return "Something went wrong while handling your answer."
	}
}
