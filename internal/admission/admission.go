// Package admission decides whether an incoming evaluation is admitted,
// skipped by sampling, or rejected because the tenant's daily cap is spent.
package admission

import (
	"math/rand/v2"
	"sync"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
)

type Outcome string

const (
	Admit  Outcome = "admitted"
	Skip   Outcome = "skipped"
	Reject Outcome = "rejected"
)

const (
	ReasonSampling      = "sampling"
	ReasonQuotaExceeded = "quota_exceeded"
)

type Decision struct {
	Outcome Outcome
	Reason  string
	// Usage is the admitted count read for the quota gate. Zero when the
	// quota gate was not reached.
	Usage int64
	Cap   int
}

// Random is a uniform source in [0, 1). *rand.Rand satisfies it.
type Random interface {
	Float64() float64
}

// UsageFunc reads the tenant's admitted count for today. It is only called
// once the sampling gate has passed.
type UsageFunc func() (int64, error)

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

type Controller struct {
	mu  sync.Mutex
	rng Random
}

// NewController returns a controller drawing from rng. A nil rng uses the
// process-wide generator.
func NewController(rng Random) *Controller {
	if rng == nil {
		rng = globalRandom{}
	}
	return &Controller{rng: rng}
}

// Decide evaluates, in order: the required interaction id, the sampling gate
// and the quota gate.
func (c *Controller) Decide(policy models.TenantPolicy, rec *models.EvaluationRecord, usage UsageFunc) (Decision, error) {
	if err := rec.Validate(); err != nil {
		return Decision{}, err
	}

	if policy.RunPolicy == models.RunSampled && !c.Sample(policy.SampleRatePct) {
		return Decision{Outcome: Skip, Reason: ReasonSampling}, nil
	}

	count, err := usage()
	if err != nil {
		return Decision{}, err
	}

	dailyCap := policy.DailyCap()
	if count >= int64(dailyCap) {
		return Decision{Outcome: Reject, Reason: ReasonQuotaExceeded, Usage: count, Cap: dailyCap}, nil
	}
	return Decision{Outcome: Admit, Usage: count, Cap: dailyCap}, nil
}

// Sample draws in [0,100) and reports whether the draw is below ratePct.
func (c *Controller) Sample(ratePct int) bool {
	switch {
	case ratePct >= 100:
		return true
	case ratePct <= 0:
		return false
	}

	c.mu.Lock()
	draw := c.rng.Float64() * 100
	c.mu.Unlock()
	return draw < float64(ratePct)
}
