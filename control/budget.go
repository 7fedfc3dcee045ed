package control

import (
	"math"

	"github.com/ftahirops/qplane/model"
)

// computeErrorBudget derives the SLO budget position for one operation.
// budget = 1 - availabilityTarget; burn rate is the recent error rate
// divided by the budget. Time to exhaustion is expressed in minutes,
// +Inf when nothing is burning and 0 once the budget is overspent.
func computeErrorBudget(op string, requests, errors uint64, availabilityTarget float64) model.ErrorBudget {
	eb := model.ErrorBudget{
		Operation:          op,
		AvailabilityTarget: availabilityTarget,
		Budget:             1 - availabilityTarget,
		Requests:           requests,
		Errors:             errors,
	}

	if requests > 0 {
		eb.ErrorRate = float64(errors) / float64(requests)
	}
	eb.Remaining = eb.Budget - eb.ErrorRate

	if eb.Budget > 0 {
		eb.BurnRate = eb.ErrorRate / eb.Budget
	}
	eb.SLOCompliant = eb.Remaining >= 0

	switch {
	case eb.BurnRate <= 0:
		eb.TimeToExhaustion = math.Inf(1)
	case eb.Remaining <= 0:
		eb.TimeToExhaustion = 0
	default:
		eb.TimeToExhaustion = (eb.Remaining / eb.BurnRate) * 60
	}
	return eb
}
