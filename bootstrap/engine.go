package bootstrap

import "context"

// Engine runs an ordered list of Steps against one Context.
type Engine struct {
	Steps []Step
}

// NewEngine builds an Engine for the given ordered step list. Order
// matters: ComponentTemplateStep must run before any step that reads
// bc.ChannelHash, and DataStreamLifecycleStep must run before the
// DataStreamTemplateStep that consumes its retention value.
func NewEngine(steps ...Step) *Engine {
	return &Engine{Steps: steps}
}

// Run executes every step in order against bc. In Failure mode, the first
// step error aborts the run and no further steps execute. In Silent mode,
// every step runs regardless of earlier failures, which are instead
// appended to bc.StepErrors.
func (e *Engine) Run(ctx context.Context, bc *Context) error {
	for _, step := range e.Steps {
		if err := step.Run(ctx, bc); err != nil {
			if bc.Mode != Silent {
				return err
			}
			bc.StepErrors = append(bc.StepErrors, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
