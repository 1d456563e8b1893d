package event

import (
	"errors"
	"fmt"
	"strings"
)

// Plan is the subscription tier.
type Plan string

const (
	PlanPrime Plan = "Prime"
	PlanTier1 Plan = "Tier 1"
	PlanTier2 Plan = "Tier 2"
	PlanTier3 Plan = "Tier 3"
)

// Subscription is a sealed union over the six subscription shapes. Each
// concrete type carries only the fields that are meaningful for its kind;
// rendering happens through an exhaustive type switch.
type Subscription interface {
	subscription()
}

// NewSub is a first-time paid (or Prime) subscription.
type NewSub struct {
	Identity string
	Plan     Plan
}

// Resub is a returning subscriber, optionally on a streak.
type Resub struct {
	Identity string
	Plan     Plan
	Months   int
	Streak   int // 0 when the subscriber hides their streak
}

// Gift is a single gifted subscription.
type Gift struct {
	Recipient  string
	Gifter     string
	Plan       Plan
	TotalGifts int // gifter's lifetime gift count in the channel, 0 if unknown
}

// GiftBomb is a batch of gifted subscriptions to the community.
type GiftBomb struct {
	Gifter     string
	Plan       Plan
	GiftCount  int
	TotalGifts int
}

// PrimeUpgrade is a Prime subscriber converting to a paid plan.
type PrimeUpgrade struct {
	Identity string
	Plan     Plan
}

// GiftUpgrade is a gift recipient continuing the subscription themselves.
type GiftUpgrade struct {
	Identity string
	Gifter   string // may be empty when the platform omits it
	Plan     Plan
}

func (NewSub) subscription()       {}
func (Resub) subscription()        {}
func (Gift) subscription()         {}
func (GiftBomb) subscription()     {}
func (PrimeUpgrade) subscription() {}
func (GiftUpgrade) subscription()  {}

// SubWire is the flat shape a source delivers before kind-specific fields
// are split out. Optional fields are zero-valued when absent.
type SubWire struct {
	Kind       string
	Identity   string
	Plan       string
	Months     int
	Gifter     string
	GiftCount  int
	Streak     int
	TotalGifts int
}

var ErrMalformed = errors.New("malformed event")

// ParseSubscription maps a wire-shaped subscription into its concrete type,
// applying per-kind defaults and rejecting events whose required fields are
// missing.
func ParseSubscription(w SubWire) (Subscription, error) {
	plan := parsePlan(w.Plan)
	switch strings.ToLower(strings.TrimSpace(w.Kind)) {
	case "new", "sub":
		if w.Identity == "" {
			return nil, fmt.Errorf("%w: new sub without identity", ErrMalformed)
		}
		return NewSub{Identity: w.Identity, Plan: plan}, nil
	case "resub":
		if w.Identity == "" {
			return nil, fmt.Errorf("%w: resub without identity", ErrMalformed)
		}
		months := w.Months
		if months < 1 {
			months = 1
		}
		return Resub{Identity: w.Identity, Plan: plan, Months: months, Streak: max(w.Streak, 0)}, nil
	case "gift":
		if w.Gifter == "" {
			return nil, fmt.Errorf("%w: gift without gifter", ErrMalformed)
		}
		return Gift{Recipient: w.Identity, Gifter: w.Gifter, Plan: plan, TotalGifts: max(w.TotalGifts, 0)}, nil
	case "gift_bomb":
		if w.Gifter == "" {
			return nil, fmt.Errorf("%w: gift bomb without gifter", ErrMalformed)
		}
		count := w.GiftCount
		if count < 1 {
			count = 1
		}
		return GiftBomb{Gifter: w.Gifter, Plan: plan, GiftCount: count, TotalGifts: max(w.TotalGifts, 0)}, nil
	case "prime_upgrade":
		if w.Identity == "" {
			return nil, fmt.Errorf("%w: prime upgrade without identity", ErrMalformed)
		}
		return PrimeUpgrade{Identity: w.Identity, Plan: plan}, nil
	case "gift_upgrade":
		if w.Identity == "" {
			return nil, fmt.Errorf("%w: gift upgrade without identity", ErrMalformed)
		}
		return GiftUpgrade{Identity: w.Identity, Gifter: w.Gifter, Plan: plan}, nil
	default:
		return nil, fmt.Errorf("%w: unknown subscription kind %q", ErrMalformed, w.Kind)
	}
}

func parsePlan(s string) Plan {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prime":
		return PlanPrime
	case "tier2", "tier 2", "2000":
		return PlanTier2
	case "tier3", "tier 3", "3000":
		return PlanTier3
	default:
		// Tier 1 is the overwhelmingly common case and the platform default.
		return PlanTier1
	}
}
