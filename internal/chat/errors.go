package chat

import (
	"errors"
	"fmt"
)

// ErrCancelled marks a turn that was stopped by cooperative cancellation.
// It is the only error a cancelled turn surfaces, and no chunk callback fires
// after it has been observed.
var ErrCancelled = errors.New("generation cancelled")

// ContextLimitError reports that a halting-mode conversation exceeds the
// token budget. The turn is aborted and the session is left unmodified.
type ContextLimitError struct {
	Tokens int
	Budget int
}

func (e *ContextLimitError) Error() string {
	return fmt.Sprintf("context limit exceeded: estimated %d tokens over a budget of %d", e.Tokens, e.Budget)
}

// IsContextLimit reports whether err is a ContextLimitError.
func IsContextLimit(err error) bool {
	var limitErr *ContextLimitError
	return errors.As(err, &limitErr)
}
