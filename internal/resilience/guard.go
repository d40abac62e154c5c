package resilience

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/article-autopilot/pkg/logger"
)

// Guard runs a scheduled task so that neither an error nor a panic escapes
// into the timer that fired it. Failures are classified and recorded.
func Guard(ctx context.Context, component string, queue *ErrorQueue, log *logger.Logger, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error().
				Str("task", component).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Scheduled task panicked")
		}
		if err != nil {
			classified := Wrap(component, "run", err)
			if queue != nil {
				queue.Record(classified)
			}
			err = classified
		}
	}()

	if err = fn(ctx); err != nil {
		log.Error().Err(err).Str("task", component).Msg("Scheduled task failed")
	}
	return err
}
