package cogserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/panics"

	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/internal/metrics"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

var errNilResponse = errors.New("step returned no response")

// Dispatcher routes one request to its step. Dispatch always returns a
// response: every failure becomes an ERROR outcome.
type Dispatcher struct {
	registry *step.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewDispatcher returns a dispatcher over reg. m and logger may be nil.
func NewDispatcher(reg *step.Registry, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		metrics:  m,
		log:      logging.OrDiscard(logger).With("component", "dispatcher"),
	}
}

// Dispatch runs req against c.
func (d *Dispatcher) Dispatch(ctx context.Context, req *cog.RunStepRequest, c client.Completer) *cog.RunStepResponse {
	id := req.StepID()
	factory, def, err := d.registry.Lookup(id)
	if err != nil {
		d.metrics.StepStarted("unknown")(cog.OutcomeError.String())
		return withRequestID(step.Error("Unknown step %s", []any{id}), req)
	}

	done := d.metrics.StepStarted(id)
	resp := d.run(ctx, id, def, factory, req, c)
	done(resp.Outcome.String())
	return withRequestID(resp, req)
}

func (d *Dispatcher) run(ctx context.Context, id string, def step.Definition, factory step.Factory, req *cog.RunStepRequest, c client.Completer) *cog.RunStepResponse {
	params, err := step.ParseParams(def, req.Step.Data)
	if err != nil {
		var (
			malformed *step.MalformedDataError
			invalid   *step.ValidationError
		)
		switch {
		case errors.As(err, &malformed):
			return step.Error("Malformed data for step %s: %s", []any{id, malformed.Err.Error()})
		case errors.As(err, &invalid):
			format, args := invalid.Template()
			return step.Error(format, args)
		default:
			return faultResponse(err, fmt.Sprintf("%T", err))
		}
	}

	var (
		resp     *cog.RunStepResponse
		execErr  error
		recovery panics.Catcher
	)
	recovery.Try(func() {
		resp, execErr = factory(c).Execute(ctx, params)
	})
	if r := recovery.Recovered(); r != nil {
		d.log.Error("step panicked", "step", id, "panic", r.Value, "stack", string(r.Stack))
		return faultResponse(fmt.Errorf("%v", r.Value), "panic")
	}
	if execErr != nil {
		d.log.Warn("step failed", "step", id, "error", execErr)
		return faultResponse(execErr, errorType(execErr))
	}
	if resp == nil {
		d.log.Error("step returned no response", "step", id)
		return faultResponse(errNilResponse, "nil response")
	}
	return resp
}

// faultResponse reports an execution fault. The error detail goes both in
// the message and in the structured response data.
func faultResponse(err error, typ string) *cog.RunStepResponse {
	resp := step.Error("%s", []any{err.Error()})
	resp.ResponseData = map[string]any{
		"message": err.Error(),
		"type":    typ,
	}
	return resp
}

// errorType names the innermost error type in err's chain.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func withRequestID(resp *cog.RunStepResponse, req *cog.RunStepRequest) *cog.RunStepResponse {
	if req != nil {
		resp.RequestID = req.RequestID
	}
	return resp
}
