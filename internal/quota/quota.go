package quota

import (
	"context"
	"fmt"

	"craftai/pkg/domain"
)

// FreeLimit is the number of metered generations a free-plan user may run.
const FreeLimit = 10

// Capability is one distinct generation or edit operation.
type Capability string

const (
	CapabilityArticle           Capability = "article"
	CapabilityBlogTitle         Capability = "blog-title"
	CapabilityImage             Capability = "image"
	CapabilityBackgroundRemoval Capability = "background-removal"
	CapabilityObjectRemoval     Capability = "object-removal"
)

// Metered reports whether usage of the capability counts against the free limit.
// Everything else is premium-only.
func (c Capability) Metered() bool {
	switch c {
	case CapabilityArticle, CapabilityBlogTitle:
		return true
	default:
		return false
	}
}

// Kind returns the creation kind records of this capability carry.
func (c Capability) Kind() domain.CreationKind {
	switch c {
	case CapabilityArticle:
		return domain.KindArticle
	case CapabilityBlogTitle:
		return domain.KindBlogTitle
	default:
		return domain.KindImage
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonLimitReached    Reason = "limit_reached"
	ReasonPremiumRequired Reason = "premium_required"
)

// Decision is the outcome of authorizing one request.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Authorize decides whether a user on the given plan with the given counter
// may run the capability. It performs no external calls.
func Authorize(plan domain.Plan, freeUsage int, c Capability) Decision {
	if plan == domain.PlanPremium {
		return Decision{Allowed: true}
	}
	if !c.Metered() {
		return Decision{Reason: ReasonPremiumRequired}
	}
	if freeUsage >= FreeLimit {
		return Decision{Reason: ReasonLimitReached}
	}
	return Decision{Allowed: true}
}

// UsageWriter updates the external per-user usage counter.
type UsageWriter interface {
	SetFreeUsage(ctx context.Context, userID string, freeUsage int) error
}

// Engine gates metered capabilities and commits counter updates after
// successful generations.
type Engine struct {
	usage UsageWriter
}

// NewEngine wires the engine to the external counter store.
func NewEngine(usage UsageWriter) *Engine {
	return &Engine{usage: usage}
}

// Authorize applies the plan/limit policy for the user.
func (e *Engine) Authorize(user domain.User, c Capability) Decision {
	return Authorize(user.Plan, user.FreeUsage, c)
}

// Commit increments the user's counter by one after a successful metered
// generation. Premium users and premium-only capabilities are never counted.
// This is a single external write with no rollback.
func (e *Engine) Commit(ctx context.Context, user domain.User, c Capability) error {
	if user.Premium() || !c.Metered() {
		return nil
	}
	if e.usage == nil {
		return fmt.Errorf("usage writer not configured")
	}
	return e.usage.SetFreeUsage(ctx, user.ID, user.FreeUsage+1)
}
