package chronofsm

import (
	"io"
	"log/slog"
)

// discardLogger builds a *slog.Logger that drops every record, used when a
// Machine is constructed without an explicit Logger. Matches the nil-safe
// defaults the teacher's error and observer types fall back to.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logPanic records a recovered user-code panic at error level with
// structured attributes, per spec §7 kind 2 ("caught at the boundary,
// logged at error level, never propagated").
func logPanic(logger *slog.Logger, component, state string, r any) {
	logger.Error("chronofsm: recovered panic in user code",
		slog.String("component", component),
		slog.String("state", state),
		slog.Any("panic", r),
	)
}

// logConditionAttempt logs a thrown condition error at info level, per spec §4.5c
// ("a thrown error counts as a failed attempt, logged at info").
func logConditionAttempt(logger *slog.Logger, state, target string, attempt int, err error) {
	logger.Info("chronofsm: condition attempt failed",
		slog.String("state", state),
		slog.String("target", target),
		slog.Int("attempt", attempt),
		slog.Any("error", err),
	)
}

// logRetryExhausted logs at error level when a retrying transition runs out
// of attempts, per spec §4.5c / §7 kind 4.
func logRetryExhausted(logger *slog.Logger, state, target string, attempts int, lastErr error) {
	logger.Error("chronofsm: retry exhausted",
		slog.String("state", state),
		slog.String("target", target),
		slog.Int("attempts", attempts),
		slog.Any("last_error", lastErr),
	)
}
