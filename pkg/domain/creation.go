package domain

import "time"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

type CreationKind string

const (
	KindArticle   CreationKind = "article"
	KindBlogTitle CreationKind = "blog-title"
	KindImage     CreationKind = "image"
)

// Creation is the persisted record of one completed generation or edit request.
type Creation struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"ownerId"`
	Prompt    string       `json:"prompt"`
	Content   string       `json:"content"`
	Kind      CreationKind `json:"kind"`
	Published bool         `json:"published"`
	Likers    []string     `json:"likers"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Liked reports whether userID is in the likers set.
func (c Creation) Liked(userID string) bool {
	for _, id := range c.Likers {
		if id == userID {
			return true
		}
	}
	return false
}

// User is the authenticated caller as resolved by the identity provider.
// Plan and FreeUsage are owned by the provider and read per request.
type User struct {
	ID        string `json:"id"`
	Plan      Plan   `json:"plan"`
	FreeUsage int    `json:"freeUsage"`
}

// Premium reports whether the user is on the premium plan.
func (u User) Premium() bool {
	return u.Plan == PlanPremium
}
