// Package app implements the generation and creation-lifecycle use cases
// behind the HTTP API.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"craftai/internal/events"
	"craftai/internal/quota"
	"craftai/internal/util"
	"craftai/pkg/ai"
	"craftai/pkg/domain"
	"craftai/pkg/imagecdn"
	"craftai/pkg/storage"
	"craftai/pkg/store"
)

const (
	articleSystemPrompt   = "You are a skilled writer. Write a well-structured article for the given topic. Respond with the article text only."
	blogTitleSystemPrompt = "You are a copywriter. Suggest engaging blog titles for the given topic, one per line. Respond with the titles only."

	generatedImagesFolder   = "generated_images"
	backgroundRemovalFolder = "background_removal"
)

// ImageCDN uploads source images and derives transformed delivery URLs.
type ImageCDN interface {
	Upload(ctx context.Context, path, folder string) (imagecdn.Asset, error)
	DeriveURL(id, transformation string) string
}

// EventPublisher emits lifecycle events. Implementations must tolerate
// broker outages; publish failures never fail a request.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// App wires generation providers, storage, and the quota engine.
type App struct {
	store   store.Store
	texts   ai.TextGenerator
	images  ai.ImageGenerator
	cdn     ImageCDN
	objects storage.ObjectStore
	quota   *quota.Engine
	events  EventPublisher
}

// Config carries the collaborators an App needs.
type Config struct {
	Store   store.Store
	Texts   ai.TextGenerator
	Images  ai.ImageGenerator
	CDN     ImageCDN
	Objects storage.ObjectStore
	Quota   *quota.Engine
	Events  EventPublisher
}

// New assembles the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("app requires a store")
	}
	if cfg.Quota == nil {
		return nil, fmt.Errorf("app requires a quota engine")
	}
	return &App{
		store:   cfg.Store,
		texts:   cfg.Texts,
		images:  cfg.Images,
		cdn:     cfg.CDN,
		objects: cfg.Objects,
		quota:   cfg.Quota,
		events:  cfg.Events,
	}, nil
}

// GenerateArticle runs a metered article generation.
func (a *App) GenerateArticle(ctx context.Context, user domain.User, prompt string) (domain.Creation, error) {
	return a.generateText(ctx, user, quota.CapabilityArticle, articleSystemPrompt, prompt)
}

// GenerateBlogTitle runs a metered blog-title generation.
func (a *App) GenerateBlogTitle(ctx context.Context, user domain.User, prompt string) (domain.Creation, error) {
	return a.generateText(ctx, user, quota.CapabilityBlogTitle, blogTitleSystemPrompt, prompt)
}

func (a *App) generateText(ctx context.Context, user domain.User, capability quota.Capability, systemPrompt, prompt string) (domain.Creation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Creation{}, validationErr("prompt is required")
	}
	if err := a.authorize(user, capability); err != nil {
		return domain.Creation{}, err
	}
	if a.texts == nil {
		return domain.Creation{}, fmt.Errorf("text generator not configured")
	}

	content, err := a.texts.GenerateText(ctx, systemPrompt, prompt)
	if err != nil {
		return domain.Creation{}, fmt.Errorf("generate text: %w", err)
	}
	// A record with empty content must never be persisted or charged.
	if strings.TrimSpace(content) == "" {
		return domain.Creation{}, fmt.Errorf("generate text: provider returned empty content")
	}

	creation := a.newCreation(user.ID, prompt, content, capability.Kind(), false)
	if err := a.persist(ctx, user, capability, creation); err != nil {
		return domain.Creation{}, err
	}
	return creation, nil
}

// GenerateImage synthesizes an image, stores it in object storage, and
// records the public URL. Premium only.
func (a *App) GenerateImage(ctx context.Context, user domain.User, prompt string, publish bool) (domain.Creation, error) {
	if err := a.authorize(user, quota.CapabilityImage); err != nil {
		return domain.Creation{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Creation{}, validationErr("prompt is required")
	}
	if a.images == nil || a.objects == nil {
		return domain.Creation{}, fmt.Errorf("image pipeline not configured")
	}

	raw, err := a.images.GenerateImage(ctx, prompt)
	if err != nil {
		return domain.Creation{}, fmt.Errorf("generate image: %w", err)
	}

	key := fmt.Sprintf("%s/%s.png", generatedImagesFolder, util.NewID())
	if err := a.objects.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), "image/png"); err != nil {
		return domain.Creation{}, fmt.Errorf("store image: %w", err)
	}

	creation := a.newCreation(user.ID, prompt, a.objects.PublicURL(key), domain.KindImage, publish)
	if err := a.persist(ctx, user, quota.CapabilityImage, creation); err != nil {
		return domain.Creation{}, err
	}
	return creation, nil
}

// RemoveBackground uploads the image to the CDN and records a delivery URL
// with the background-removal transformation. Premium only.
func (a *App) RemoveBackground(ctx context.Context, user domain.User, imagePath string) (domain.Creation, error) {
	if err := a.authorize(user, quota.CapabilityBackgroundRemoval); err != nil {
		return domain.Creation{}, err
	}
	if strings.TrimSpace(imagePath) == "" {
		return domain.Creation{}, validationErr("no image uploaded")
	}
	if a.cdn == nil {
		return domain.Creation{}, fmt.Errorf("image cdn not configured")
	}

	asset, err := a.cdn.Upload(ctx, imagePath, backgroundRemovalFolder)
	if err != nil {
		return domain.Creation{}, fmt.Errorf("upload image: %w", err)
	}
	url := a.cdn.DeriveURL(asset.ID, imagecdn.TransformBackgroundRemoval)

	creation := a.newCreation(user.ID, "Remove background from image", url, domain.KindImage, false)
	if err := a.persist(ctx, user, quota.CapabilityBackgroundRemoval, creation); err != nil {
		return domain.Creation{}, err
	}
	return creation, nil
}

// RemoveObject uploads the image and records a delivery URL with a
// generative object-removal transformation. Premium only.
func (a *App) RemoveObject(ctx context.Context, user domain.User, imagePath, object string) (domain.Creation, error) {
	if err := a.authorize(user, quota.CapabilityObjectRemoval); err != nil {
		return domain.Creation{}, err
	}
	if strings.TrimSpace(imagePath) == "" {
		return domain.Creation{}, validationErr("no image uploaded")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return domain.Creation{}, validationErr("no object specified to remove")
	}
	if a.cdn == nil {
		return domain.Creation{}, fmt.Errorf("image cdn not configured")
	}

	asset, err := a.cdn.Upload(ctx, imagePath, "")
	if err != nil {
		return domain.Creation{}, fmt.Errorf("upload image: %w", err)
	}
	url := a.cdn.DeriveURL(asset.ID, imagecdn.TransformRemoveObject(object))

	creation := a.newCreation(user.ID, fmt.Sprintf("Removed %s from image", object), url, domain.KindImage, false)
	if err := a.persist(ctx, user, quota.CapabilityObjectRemoval, creation); err != nil {
		return domain.Creation{}, err
	}
	return creation, nil
}

// ListCreations returns the caller's creations, newest first.
func (a *App) ListCreations(ctx context.Context, userID string) ([]domain.Creation, error) {
	return a.store.ListByOwner(userID)
}

// ListPublished returns all published creations, newest first.
func (a *App) ListPublished(ctx context.Context) ([]domain.Creation, error) {
	return a.store.ListPublished()
}

// ToggleLike flips the caller's like on a creation and reports the new state.
func (a *App) ToggleLike(ctx context.Context, userID, creationID string) (bool, error) {
	if strings.TrimSpace(creationID) == "" {
		return false, validationErr("creation id is required")
	}
	liked, found, err := a.store.ToggleLike(creationID, userID)
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	if !found {
		return false, ErrNotFound
	}
	return liked, nil
}

// TogglePublish flips the published flag of a creation owned by the caller
// and reports the new state.
func (a *App) TogglePublish(ctx context.Context, userID, creationID string) (bool, error) {
	if strings.TrimSpace(creationID) == "" {
		return false, validationErr("creation id is required")
	}
	creation, found, err := a.store.GetCreation(creationID)
	if err != nil {
		return false, fmt.Errorf("load creation: %w", err)
	}
	if !found {
		return false, ErrNotFound
	}
	if creation.OwnerID != userID {
		return false, ErrForbidden
	}

	published := !creation.Published
	found, err = a.store.SetPublished(creationID, published)
	if err != nil {
		return false, fmt.Errorf("set published: %w", err)
	}
	if !found {
		return false, ErrNotFound
	}
	if published {
		a.publishEvent(ctx, events.KeyCreationPublished, creationEvent(creation.ID, userID, creation.Kind))
	}
	return published, nil
}

func (a *App) authorize(user domain.User, capability quota.Capability) error {
	decision := a.quota.Authorize(user, capability)
	if decision.Allowed {
		return nil
	}
	switch decision.Reason {
	case quota.ReasonLimitReached:
		return ErrLimitReached
	default:
		return ErrPremiumRequired
	}
}

// persist saves the creation and, only on success, commits the usage
// counter. A failed commit leaves the creation in place and is logged.
func (a *App) persist(ctx context.Context, user domain.User, capability quota.Capability, creation domain.Creation) error {
	if err := a.store.SaveCreation(creation); err != nil {
		return fmt.Errorf("save creation: %w", err)
	}
	if err := a.quota.Commit(ctx, user, capability); err != nil {
		slog.Error("usage commit failed", "user_id", user.ID, "capability", capability, "error", err)
	}
	a.publishEvent(ctx, events.KeyCreationCreated, creationEvent(creation.ID, user.ID, creation.Kind))
	return nil
}

func (a *App) publishEvent(ctx context.Context, key string, payload any) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(ctx, key, payload); err != nil {
		slog.Warn("event publish failed", "routing_key", key, "error", err)
	}
}

func creationEvent(creationID, userID string, kind domain.CreationKind) map[string]string {
	return map[string]string{
		"creation_id": creationID,
		"user_id":     userID,
		"kind":        string(kind),
	}
}

func (a *App) newCreation(ownerID, prompt, content string, kind domain.CreationKind, published bool) domain.Creation {
	return domain.Creation{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Prompt:    prompt,
		Content:   content,
		Kind:      kind,
		Published: published,
		Likers:    []string{},
		CreatedAt: util.Now(),
	}
}
