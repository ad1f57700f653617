package store

import (
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"craftai/pkg/domain"
)

func seedCreation(t *testing.T, s Store, id, owner string, published bool, createdAt time.Time) {
	t.Helper()
	err := s.SaveCreation(domain.Creation{
		ID:        id,
		OwnerID:   owner,
		Prompt:    "prompt " + id,
		Content:   "content " + id,
		Kind:      domain.KindArticle,
		Published: published,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedCreation(t, s, "c-1", "u-1", false, base)
	seedCreation(t, s, "c-2", "u-1", false, base.Add(time.Minute))
	seedCreation(t, s, "c-3", "u-2", false, base.Add(2*time.Minute))

	got, err := s.ListByOwner("u-1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c-2" || got[1].ID != "c-1" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestListPublishedFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedCreation(t, s, "c-1", "u-1", true, base)
	seedCreation(t, s, "c-2", "u-2", false, base.Add(time.Minute))
	seedCreation(t, s, "c-3", "u-3", true, base.Add(2*time.Minute))

	got, err := s.ListPublished()
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c-3" || got[1].ID != "c-1" {
		t.Fatalf("unexpected published list: %+v", got)
	}
}

func TestToggleLikeAlternates(t *testing.T) {
	s := NewMemoryStore()
	seedCreation(t, s, "c-1", "u-1", false, time.Now().UTC())

	liked, found, err := s.ToggleLike("c-1", "u-9")
	if err != nil || !found || !liked {
		t.Fatalf("first toggle: liked=%v found=%v err=%v", liked, found, err)
	}
	liked, found, err = s.ToggleLike("c-1", "u-9")
	if err != nil || !found || liked {
		t.Fatalf("second toggle: liked=%v found=%v err=%v", liked, found, err)
	}

	c, _, err := s.GetCreation("c-1")
	if err != nil {
		t.Fatalf("get creation: %v", err)
	}
	if len(c.Likers) != 0 {
		t.Fatalf("likers not empty after toggle pair: %v", c.Likers)
	}
}

func TestToggleLikeUnknownCreation(t *testing.T) {
	s := NewMemoryStore()
	_, found, err := s.ToggleLike("missing", "u-1")
	if err != nil {
		t.Fatalf("toggle unknown: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for unknown creation")
	}
}

func TestToggleLikeNeverDuplicates(t *testing.T) {
	s := NewMemoryStore()
	seedCreation(t, s, "c-1", "u-1", false, time.Now().UTC())
	for i := 0; i < 7; i++ {
		if _, _, err := s.ToggleLike("c-1", "u-9"); err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
	}
	c, _, _ := s.GetCreation("c-1")
	seen := map[string]int{}
	for _, id := range c.Likers {
		seen[id]++
		if seen[id] > 1 {
			t.Fatalf("duplicate liker %s: %v", id, c.Likers)
		}
	}
}

func TestConcurrentTogglesStayConsistent(t *testing.T) {
	s := NewMemoryStore()
	seedCreation(t, s, "c-1", "u-1", false, time.Now().UTC())

	// Each user toggles twice; every pair nets out to absent.
	var g errgroup.Group
	users := []string{"u-a", "u-b", "u-c", "u-d"}
	for _, u := range users {
		user := u
		g.Go(func() error {
			for i := 0; i < 2; i++ {
				if _, _, err := s.ToggleLike("c-1", user); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent toggles: %v", err)
	}

	c, _, _ := s.GetCreation("c-1")
	if len(c.Likers) != 0 {
		t.Fatalf("expected empty likers after paired toggles, got %v", c.Likers)
	}
}

func TestSetPublished(t *testing.T) {
	s := NewMemoryStore()
	seedCreation(t, s, "c-1", "u-1", false, time.Now().UTC())

	found, err := s.SetPublished("c-1", true)
	if err != nil || !found {
		t.Fatalf("set published: found=%v err=%v", found, err)
	}
	c, _, _ := s.GetCreation("c-1")
	if !c.Published {
		t.Fatalf("creation not published")
	}
	found, err = s.SetPublished("missing", true)
	if err != nil || found {
		t.Fatalf("unknown id: found=%v err=%v", found, err)
	}
}

func TestToggleMembership(t *testing.T) {
	likers, liked := toggleMembership(nil, "u-1")
	if !liked || len(likers) != 1 || likers[0] != "u-1" {
		t.Fatalf("add to empty: liked=%v likers=%v", liked, likers)
	}
	likers, liked = toggleMembership([]string{"u-1", "u-2"}, "u-1")
	if liked || len(likers) != 1 || likers[0] != "u-2" {
		t.Fatalf("remove: liked=%v likers=%v", liked, likers)
	}
	// Duplicates already in stored data collapse on the next toggle.
	likers, liked = toggleMembership([]string{"u-1", "u-1"}, "u-1")
	if liked || len(likers) != 0 {
		t.Fatalf("collapse duplicates: liked=%v likers=%v", liked, likers)
	}
}
