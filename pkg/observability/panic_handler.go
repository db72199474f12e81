package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic in the surrounding function and logs it with
// the stack trace. Meant for deferred use in background work, like the orphan
// grant sweep, where a panic must not take the process down. The panic is not
// re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
