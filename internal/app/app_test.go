package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"craftai/internal/quota"
	"craftai/pkg/domain"
	"craftai/pkg/imagecdn"
	"craftai/pkg/store"
)

type fakeTexts struct {
	calls int
	out   string
	blank bool
	err   error
}

func (f *fakeTexts) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.blank {
		return "", nil
	}
	if f.out != "" {
		return f.out, nil
	}
	return "generated: " + userPrompt, nil
}

type fakeImages struct {
	calls int
	err   error
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png-bytes"), nil
}

type fakeCDN struct {
	uploads []string
	err     error
}

func (f *fakeCDN) Upload(ctx context.Context, path, folder string) (imagecdn.Asset, error) {
	f.uploads = append(f.uploads, folder)
	if f.err != nil {
		return imagecdn.Asset{}, f.err
	}
	return imagecdn.Asset{ID: "asset-1", URL: "https://cdn.example/image/asset-1"}, nil
}

func (f *fakeCDN) DeriveURL(id, transformation string) string {
	return fmt.Sprintf("https://cdn.example/image/%s/%s", transformation, id)
}

type memObjects struct {
	keys []string
	err  error
}

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://objects.example/craftai/" + key
}

func (m *memObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return m.PublicURL(key), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	return nil
}

type fakeUsage struct {
	writes []int
	err    error
}

func (f *fakeUsage) SetFreeUsage(ctx context.Context, userID string, freeUsage int) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, freeUsage)
	return nil
}

type failingStore struct {
	store.Store
}

func (failingStore) SaveCreation(domain.Creation) error {
	return errors.New("db down")
}

type fakeEvents struct {
	keys []string
}

func (f *fakeEvents) Publish(ctx context.Context, routingKey string, payload any) error {
	f.keys = append(f.keys, routingKey)
	return nil
}

type fixture struct {
	app    *App
	store  store.Store
	texts  *fakeTexts
	images *fakeImages
	cdn    *fakeCDN
	usage  *fakeUsage
	events *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, s store.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:  s,
		texts:  &fakeTexts{},
		images: &fakeImages{},
		cdn:    &fakeCDN{},
		usage:  &fakeUsage{},
		events: &fakeEvents{},
	}
	a, err := New(Config{
		Store:   f.store,
		Texts:   f.texts,
		Images:  f.images,
		CDN:     f.cdn,
		Objects: &memObjects{},
		Quota:   quota.NewEngine(f.usage),
		Events:  f.events,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

func freeUser(usage int) domain.User {
	return domain.User{ID: "user-1", Plan: domain.PlanFree, FreeUsage: usage}
}

func premiumUser() domain.User {
	return domain.User{ID: "user-1", Plan: domain.PlanPremium}
}

func stageImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatalf("stage image: %v", err)
	}
	return path
}

func TestGenerateArticle(t *testing.T) {
	f := newFixture(t)

	creation, err := f.app.GenerateArticle(context.Background(), freeUser(2), "coffee brewing")
	if err != nil {
		t.Fatalf("generate article: %v", err)
	}
	if creation.Kind != domain.KindArticle {
		t.Fatalf("kind = %q", creation.Kind)
	}
	if creation.Content != "generated: coffee brewing" {
		t.Fatalf("content = %q", creation.Content)
	}
	if creation.Published {
		t.Fatal("new article must not be published")
	}

	saved, err := f.store.ListByOwner("user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved %d creations, want 1", len(saved))
	}
	if len(f.usage.writes) != 1 || f.usage.writes[0] != 3 {
		t.Fatalf("usage writes = %v, want [3]", f.usage.writes)
	}
	if len(f.events.keys) != 1 || f.events.keys[0] != "creation.created" {
		t.Fatalf("events = %v", f.events.keys)
	}
}

func TestGenerateArticleAtLimit(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.GenerateArticle(context.Background(), freeUser(quota.FreeLimit), "topic")
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("err = %v, want ErrLimitReached", err)
	}
	if f.texts.calls != 0 {
		t.Fatalf("provider called %d times on denial", f.texts.calls)
	}
	saved, _ := f.store.ListByOwner("user-1")
	if len(saved) != 0 {
		t.Fatal("denied request must not persist a creation")
	}
	if len(f.usage.writes) != 0 {
		t.Fatal("denied request must not commit usage")
	}
}

func TestGenerateBlogTitleIsMetered(t *testing.T) {
	f := newFixture(t)

	creation, err := f.app.GenerateBlogTitle(context.Background(), freeUser(0), "go concurrency")
	if err != nil {
		t.Fatalf("generate blog title: %v", err)
	}
	if creation.Kind != domain.KindBlogTitle {
		t.Fatalf("kind = %q", creation.Kind)
	}
	if len(f.usage.writes) != 1 || f.usage.writes[0] != 1 {
		t.Fatalf("usage writes = %v, want [1]", f.usage.writes)
	}
}

func TestPremiumTextIsNotCounted(t *testing.T) {
	f := newFixture(t)

	if _, err := f.app.GenerateArticle(context.Background(), premiumUser(), "topic"); err != nil {
		t.Fatalf("generate article: %v", err)
	}
	if len(f.usage.writes) != 0 {
		t.Fatalf("premium usage writes = %v, want none", f.usage.writes)
	}
}

func TestGenerateTextRequiresPrompt(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.GenerateArticle(context.Background(), freeUser(0), "   ")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if f.texts.calls != 0 {
		t.Fatal("provider must not run for invalid input")
	}
}

func TestEmptyProviderOutputIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	f.texts.blank = true

	_, err := f.app.GenerateArticle(context.Background(), freeUser(0), "topic")
	if err == nil {
		t.Fatal("expected error for empty provider output")
	}
	saved, _ := f.store.ListByOwner("user-1")
	if len(saved) != 0 {
		t.Fatalf("saved %d creations, want none with empty content", len(saved))
	}
	if len(f.usage.writes) != 0 {
		t.Fatalf("usage writes = %v, want none for a failed generation", f.usage.writes)
	}
}

func TestPersistFailureDoesNotCommitUsage(t *testing.T) {
	f := newFixtureWithStore(t, failingStore{})

	_, err := f.app.GenerateArticle(context.Background(), freeUser(0), "topic")
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if len(f.usage.writes) != 0 {
		t.Fatalf("usage writes = %v, want none after persist failure", f.usage.writes)
	}
	if len(f.events.keys) != 0 {
		t.Fatalf("events = %v, want none after persist failure", f.events.keys)
	}
}

func TestCommitFailureStillReturnsCreation(t *testing.T) {
	f := newFixture(t)
	f.usage.err = errors.New("identity down")

	creation, err := f.app.GenerateArticle(context.Background(), freeUser(0), "topic")
	if err != nil {
		t.Fatalf("generate article: %v", err)
	}
	saved, _ := f.store.ListByOwner("user-1")
	if len(saved) != 1 || saved[0].ID != creation.ID {
		t.Fatal("creation must persist even when the usage commit fails")
	}
}

func TestGenerateImageRequiresPremium(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.GenerateImage(context.Background(), freeUser(0), "a lighthouse", false)
	if !errors.Is(err, ErrPremiumRequired) {
		t.Fatalf("err = %v, want ErrPremiumRequired", err)
	}
	if f.images.calls != 0 {
		t.Fatal("provider must not run on denial")
	}
}

func TestGenerateImage(t *testing.T) {
	f := newFixture(t)

	creation, err := f.app.GenerateImage(context.Background(), premiumUser(), "a lighthouse", true)
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if creation.Kind != domain.KindImage {
		t.Fatalf("kind = %q", creation.Kind)
	}
	if !creation.Published {
		t.Fatal("publish flag must be honored at creation")
	}
	if !strings.Contains(creation.Content, "generated_images/") {
		t.Fatalf("content = %q, want object storage URL", creation.Content)
	}
	if len(f.usage.writes) != 0 {
		t.Fatal("image generation must never commit usage")
	}
}

func TestRemoveBackground(t *testing.T) {
	f := newFixture(t)

	creation, err := f.app.RemoveBackground(context.Background(), premiumUser(), stageImage(t))
	if err != nil {
		t.Fatalf("remove background: %v", err)
	}
	if creation.Prompt != "Remove background from image" {
		t.Fatalf("prompt = %q", creation.Prompt)
	}
	if !strings.Contains(creation.Content, imagecdn.TransformBackgroundRemoval) {
		t.Fatalf("content = %q, want background-removal URL", creation.Content)
	}
	if len(f.cdn.uploads) != 1 || f.cdn.uploads[0] != "background_removal" {
		t.Fatalf("uploads = %v", f.cdn.uploads)
	}
}

func TestRemoveBackgroundChecksPremiumBeforeValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.RemoveBackground(context.Background(), freeUser(0), "")
	if !errors.Is(err, ErrPremiumRequired) {
		t.Fatalf("err = %v, want ErrPremiumRequired before validation", err)
	}
	if len(f.cdn.uploads) != 0 {
		t.Fatal("cdn must not be called")
	}
}

func TestRemoveBackgroundRequiresImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.RemoveBackground(context.Background(), premiumUser(), "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Message != "no image uploaded" {
		t.Fatalf("message = %q", verr.Message)
	}
}

func TestRemoveObject(t *testing.T) {
	f := newFixture(t)

	creation, err := f.app.RemoveObject(context.Background(), premiumUser(), stageImage(t), "watermark")
	if err != nil {
		t.Fatalf("remove object: %v", err)
	}
	if creation.Prompt != "Removed watermark from image" {
		t.Fatalf("prompt = %q", creation.Prompt)
	}
	if !strings.Contains(creation.Content, "e_gen_remove:watermark") {
		t.Fatalf("content = %q, want object-removal URL", creation.Content)
	}
}

func TestRemoveObjectRequiresObject(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.RemoveObject(context.Background(), premiumUser(), stageImage(t), "  ")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Message != "no object specified to remove" {
		t.Fatalf("message = %q", verr.Message)
	}
	if len(f.cdn.uploads) != 0 {
		t.Fatal("cdn must not be called for invalid input")
	}
}

func TestToggleLike(t *testing.T) {
	f := newFixture(t)
	creation, err := f.app.GenerateArticle(context.Background(), premiumUser(), "topic")
	if err != nil {
		t.Fatalf("seed creation: %v", err)
	}

	liked, err := f.app.ToggleLike(context.Background(), "user-2", creation.ID)
	if err != nil || !liked {
		t.Fatalf("first toggle = (%v, %v), want liked", liked, err)
	}
	liked, err = f.app.ToggleLike(context.Background(), "user-2", creation.ID)
	if err != nil || liked {
		t.Fatalf("second toggle = (%v, %v), want unliked", liked, err)
	}
}

func TestToggleLikeUnknownCreation(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.ToggleLike(context.Background(), "user-2", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTogglePublish(t *testing.T) {
	f := newFixture(t)
	creation, err := f.app.GenerateArticle(context.Background(), premiumUser(), "topic")
	if err != nil {
		t.Fatalf("seed creation: %v", err)
	}

	published, err := f.app.TogglePublish(context.Background(), "user-1", creation.ID)
	if err != nil || !published {
		t.Fatalf("toggle publish = (%v, %v), want published", published, err)
	}
	if got := f.events.keys[len(f.events.keys)-1]; got != "creation.published" {
		t.Fatalf("last event = %q", got)
	}

	published, err = f.app.TogglePublish(context.Background(), "user-1", creation.ID)
	if err != nil || published {
		t.Fatalf("second toggle = (%v, %v), want unpublished", published, err)
	}
}

func TestTogglePublishOwnerOnly(t *testing.T) {
	f := newFixture(t)
	creation, err := f.app.GenerateArticle(context.Background(), premiumUser(), "topic")
	if err != nil {
		t.Fatalf("seed creation: %v", err)
	}

	_, err = f.app.TogglePublish(context.Background(), "user-2", creation.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}
