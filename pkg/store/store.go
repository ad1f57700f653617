package store

import "craftai/pkg/domain"

// Store defines persistence operations for creations.
type Store interface {
	SaveCreation(domain.Creation) error
	GetCreation(id string) (domain.Creation, bool, error)
	ListByOwner(ownerID string) ([]domain.Creation, error)
	ListPublished() ([]domain.Creation, error)

	// ToggleLike atomically adds userID to the likers set when absent and
	// removes it when present. Implementations must serialize concurrent
	// toggles on the same creation; a plain read-then-overwrite loses updates.
	ToggleLike(id, userID string) (liked bool, found bool, err error)

	// SetPublished flips the published flag. found is false for unknown ids.
	SetPublished(id string, published bool) (found bool, err error)
}
