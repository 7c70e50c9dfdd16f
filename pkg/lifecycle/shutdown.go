package lifecycle

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

// ShutdownDeadline bounds the entire shutdown sequence — listener
// close, in-flight request drain, and model unload — to 5 seconds from
// the first signal, as a whole, not per step.
const ShutdownDeadline = 5 * time.Second

// Unloader is implemented by the Router: the one thing Lifecycle must
// stop before the process exits.
type Unloader interface {
	Unload(ctx context.Context) error
}

// NotifyShutdown returns a context cancelled on SIGINT/SIGTERM, mirroring
// the signal-driven shutdown main.go used.
func NotifyShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Shutdown stops the loaded model (if any) and releases guard, using
// whatever time remains on ctx. Callers that also bound an
// http.Server.Shutdown call must share a single ShutdownDeadline-scoped
// context across both steps so the overall sequence still fits in
// ShutdownDeadline rather than each step getting its own full budget.
func Shutdown(ctx context.Context, log logging.Logger, router Unloader, guard *Guard) {
	if router != nil {
		if err := router.Unload(ctx); err != nil {
			log.Warn("error unloading model during shutdown", "error", err)
		}
	}
	if err := guard.Release(); err != nil {
		log.Warn("error releasing instance lock", "error", err)
	}
}
