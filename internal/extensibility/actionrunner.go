// Package extensibility offers convenience wrappers hosts can use when
// building an ActionTable or GuardTable: logging decorators, and an
// expression-string guard evaluator, for hosts that would rather configure
// conditions as data than compile them as Go closures.
package extensibility

import (
	"log"
	"time"

	"github.com/cmpforge/statefabric/internal/core"
)

// Logged wraps an ActionFunc so every invocation is logged with the
// triggering event and elapsed time, under the given name (typically the
// action's own symbol, for correlating log lines with the graph).
func Logged(name string, fn core.ActionFunc) core.ActionFunc {
	return func(ac core.ActionContext) {
		start := time.Now()
		log.Printf("action %s: event=%q start", name, ac.Event.Type)
		fn(ac)
		log.Printf("action %s: event=%q done in %v", name, ac.Event.Type, time.Since(start))
	}
}
