// Package plangate implements plan metering and feature gating.
package plangate

import (
	"sync"
	"time"

	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
)

// UsageEventKind distinguishes the one-shot warning from the throttled
// limit event emitted by RecordEvent.
type UsageEventKind string

const (
	UsageEventNone    UsageEventKind = ""
	UsageEventWarning UsageEventKind = "usage_warning"
	UsageEventLimit   UsageEventKind = "limit_reached"
)

// Subscriber receives metering events synchronously under the writer lock.
// Implementations must not perform blocking I/O.
type Subscriber interface {
	OnUsageWarning(usage plan.Usage)
	OnLimitReached(usage plan.Usage)
}

// Gate tracks metering state and enforces feature gating for one engine
// instance. Not safe for use before New.
type Gate struct {
	mu    sync.Mutex
	state plan.State
	subs  []Subscriber
	now   func() time.Time
}

// New constructs a Gate on the given tier, with billing period anchored to
// the current UTC month.
func New(tier plan.Tier) *Gate {
	return NewWithClock(tier, time.Now)
}

// NewWithClock is New with an injectable clock for deterministic tests.
func NewWithClock(tier plan.Tier, now func() time.Time) *Gate {
	return &Gate{
		state: plan.State{
			Tier:               tier,
			BillingPeriodStart: plan.BillingPeriodFor(now()),
		},
		now: now,
	}
}

// Subscribe registers a metering event subscriber.
func (g *Gate) Subscribe(s Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, s)
}

// SetTier changes the plan tier. Per the idempotence property, setting the
// same tier twice is a no-op beyond resetting the warning state.
func (g *Gate) SetTier(tier plan.Tier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Tier = tier
	g.state.WarningEmitted = false
}

// Tier returns the current tier.
func (g *Gate) Tier() plan.Tier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Tier
}

// rolloverLocked resets the billing period lazily when now has entered a
// new UTC month; there is no background timer.
func (g *Gate) rolloverLocked() {
	period := plan.BillingPeriodFor(g.now())
	if period.After(g.state.BillingPeriodStart) {
		g.state.BillingPeriodStart = period
		g.state.EventCount = 0
		g.state.WarningEmitted = false
		g.state.LastLimitEventCount = 0
	}
}

// RecordEvent counts one logging-type append (log/logTransaction/logReasoning,
// never reads). Free tier emits a one-shot warning at 80% of the limit and a
// throttled limit event (every 100 events) past the cap; pro and enterprise
// emit neither, at the core level.
func (g *Gate) RecordEvent() (kind UsageEventKind, usage plan.Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	g.state.EventCount++

	usage = g.usageLocked()

	if g.state.Tier != plan.TierFree {
		return UsageEventNone, usage
	}

	limit := plan.FreeEventLimit
	warnAt := int(float64(limit) * plan.WarningThresholdRatio)

	switch {
	case g.state.EventCount >= limit:
		if g.state.EventCount == limit || (g.state.EventCount-limit)%plan.LimitThrottleEvery == 0 {
			g.state.LastLimitEventCount = g.state.EventCount
			kind = UsageEventLimit
		}
	case g.state.EventCount == warnAt:
		if !g.state.WarningEmitted {
			g.state.WarningEmitted = true
			kind = UsageEventWarning
		}
	}

	switch kind {
	case UsageEventWarning:
		g.notifyWarning(usage)
	case UsageEventLimit:
		g.notifyLimit(usage)
	}

	return kind, usage
}

func (g *Gate) notifyWarning(usage plan.Usage) {
	for _, s := range g.subs {
		s.OnUsageWarning(usage)
	}
}

func (g *Gate) notifyLimit(usage plan.Usage) {
	for _, s := range g.subs {
		s.OnLimitReached(usage)
	}
}

// LimitExceeded reports whether the current event count is at or beyond the
// free-tier cap (always false for pro/enterprise).
func (g *Gate) LimitExceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.state.Tier == plan.TierFree && g.state.EventCount >= plan.FreeEventLimit
}

// Usage returns the current plan usage snapshot.
func (g *Gate) Usage() plan.Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.usageLocked()
}

func (g *Gate) usageLocked() plan.Usage {
	if g.state.Tier != plan.TierFree {
		return plan.Usage{Plan: g.state.Tier, EventCount: g.state.EventCount}
	}
	limit := plan.FreeEventLimit
	remaining := limit - g.state.EventCount
	if remaining < 0 {
		remaining = 0
	}
	return plan.Usage{
		Plan:            g.state.Tier,
		EventCount:      g.state.EventCount,
		Limit:           limit,
		RemainingEvents: remaining,
		UsagePercentage: 100 * float64(g.state.EventCount) / float64(limit),
	}
}

// RequirePlan enforces feature gating: returns nil if tier satisfies the
// feature's minimum tier, else a structured PLAN_REQUIRED error.
func RequirePlan(feature plan.Feature, tier plan.Tier) error {
	required, gated := plan.RequiredTier[feature]
	if !gated {
		return nil
	}
	if plan.Meets(tier, required) {
		return nil
	}
	return kerrors.PlanRequired(string(feature), string(tier), string(required), "https://kontext.dev/upgrade")
}
