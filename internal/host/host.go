// Package host consumes queued events: it prints each one and, when a
// rule is configured, reports the events the rule matches.
package host

import (
	"context"

	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/logging"
)

// Evaluator decides whether an event matches a rule.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, env event.Envelope) (bool, error)
}

// Stats counts what a host run saw.
type Stats struct {
	Received   int
	Matched    int
	RuleErrors int
}

// Host drains a delivery channel.
type Host struct {
	// Printer renders every received event. Nil disables printing.
	Printer *Printer

	// Rule is evaluated against every received event. Nil disables
	// rule evaluation.
	Rule Evaluator

	Logger logging.Logger
}

// Run consumes events until the channel is closed or ctx is done.
// A rule error is logged and counted; it does not stop the run.
// A print failure stops the run and is returned.
func (h *Host) Run(ctx context.Context, events <-chan event.Envelope) (Stats, error) {
	log := h.Logger
	if log == nil {
		log = logging.Nop()
	}

	var stats Stats
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case env, ok := <-events:
			if !ok {
				return stats, nil
			}
			stats.Received++

			if h.Printer != nil {
				if err := h.Printer.Print(env); err != nil {
					return stats, err
				}
			}

			if h.Rule == nil {
				continue
			}
			matched, err := h.Rule.Evaluate(ctx, env)
			if err != nil {
				stats.RuleErrors++
				log.Warn("rule evaluation failed",
					"rule", h.Rule.Name(),
					"command", env.Meta.Command,
					"error", err,
				)
				continue
			}
			if matched {
				stats.Matched++
				log.Info("rule matched",
					"rule", h.Rule.Name(),
					"command", env.Meta.Command,
				)
			}
		}
	}
}
