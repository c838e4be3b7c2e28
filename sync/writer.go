package sync

import (
	"context"
	"log/slog"

	"github.com/xraph/reconcile/billing"
)

// Result reports the per-sink outcome of one sync pass.
type Result struct {
	// Wrote records, per sink name, whether the write call succeeded.
	Wrote map[string]bool `json:"wrote"`

	// Readback records, per sink name, the plan observed after writing.
	// A sink whose readback failed is absent from the map.
	Readback map[string]billing.Plan `json:"readback"`

	// Effective is true when at least one authoritative sink read back the
	// desired plan. Writes that all land on sinks nothing reads from, or
	// that fail verification, are not effective.
	Effective bool `json:"effective"`
}

// Writer fans a desired billing record out to a fixed sink set.
type Writer struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewWriter builds a writer over the given sinks.
func NewWriter(logger *slog.Logger, sinks ...Sink) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{sinks: sinks, logger: logger}
}

// Apply writes rec to every sink, reads each sink back, and reports what
// actually took effect. A failing sink never aborts the pass: the remaining
// sinks are still written so a partial outage degrades instead of halting.
// Apply is idempotent — re-applying the same record converges to the same
// stored state.
func (w *Writer) Apply(ctx context.Context, rec *billing.Record) *Result {
	res := &Result{
		Wrote:    make(map[string]bool, len(w.sinks)),
		Readback: make(map[string]billing.Plan, len(w.sinks)),
	}

	for _, sink := range w.sinks {
		if err := sink.Write(ctx, rec); err != nil {
			w.logger.Warn("plan sink write failed",
				"sink", sink.Name(),
				"workspace_id", rec.WorkspaceID.String(),
				"plan", string(rec.Plan),
				"error", err,
			)
			res.Wrote[sink.Name()] = false
			continue
		}
		res.Wrote[sink.Name()] = true
	}

	for _, sink := range w.sinks {
		plan, err := sink.Read(ctx, rec.WorkspaceID)
		if err != nil {
			w.logger.Warn("plan sink readback failed",
				"sink", sink.Name(),
				"workspace_id", rec.WorkspaceID.String(),
				"error", err,
			)
			continue
		}
		res.Readback[sink.Name()] = plan
		if sink.Authoritative() && plan == rec.Plan {
			res.Effective = true
		}
	}

	if !res.Effective {
		w.logger.Warn("plan sync had no effect",
			"workspace_id", rec.WorkspaceID.String(),
			"plan", string(rec.Plan),
		)
	}
	return res
}

// Sinks returns the writer's sink names in write order.
func (w *Writer) Sinks() []string {
	names := make([]string, len(w.sinks))
	for i, s := range w.sinks {
		names[i] = s.Name()
	}
	return names
}
