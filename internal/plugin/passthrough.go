package plugin

import "context"

// Passthrough completes immediately with zero counts. It stands in for step
// kinds whose processing lives outside this service.
type Passthrough struct {
	Kind Kind
}

func (p Passthrough) Execute(ctx context.Context, _ Request, reporter Reporter) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	if reporter != nil {
		reporter.Report(Counts{})
	}
	return Counts{}, nil
}

func (p Passthrough) HealthCheck(context.Context) Health {
	return Healthy(string(p.Kind))
}
