package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/search"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/util"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var allowedContentKinds = map[string]struct{}{
	"post":    {},
	"project": {},
}

type ContentInput struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Tags        []string `json:"tags"`
	RepoURL     string   `json:"repoUrl"`
	DemoURL     string   `json:"demoUrl"`
	Published   bool     `json:"published"`
}

func validateContentInput(kind string, input ContentInput) error {
	if _, ok := allowedContentKinds[kind]; !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be post or project", nil)
	}
	if !slugPattern.MatchString(input.Slug) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "slug must be lowercase kebab-case", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return nil
}

// GetPublicContent serves a post or project by slug. Unpublished content is
// indistinguishable from missing content for non-admin viewers, and each
// public read bumps the view counter.
func (s *Service) GetPublicContent(ctx context.Context, session Session, kind, slug string) (map[string]any, error) {
	item, err := s.store.GetContentBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if !item.Published && !session.IsAdmin() {
		return nil, sql.ErrNoRows
	}

	if !session.IsAdmin() {
		if err := s.store.IncrementContentViews(ctx, item.ID); err == nil {
			item.ViewCount++
		}
	}
	return contentPayload(item, session.IsAdmin()), nil
}

// ListContents lists posts or projects. Non-admin viewers only see
// published items.
func (s *Service) ListContents(ctx context.Context, session Session, kind string) ([]map[string]any, error) {
	if _, ok := allowedContentKinds[kind]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be post or project", nil)
	}
	items, err := s.store.ListContents(ctx, kind, !session.IsAdmin())
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, contentPayload(item, session.IsAdmin()))
	}
	return payload, nil
}

// CreateContent creates a post or project. Admin only.
func (s *Service) CreateContent(ctx context.Context, session Session, kind string, input ContentInput) (map[string]any, error) {
	if !session.IsAdmin() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := validateContentInput(kind, input); err != nil {
		return nil, err
	}

	item := store.Content{
		ID:          util.NewID(kind),
		Kind:        kind,
		Slug:        input.Slug,
		Title:       input.Title,
		Description: input.Description,
		Body:        input.Body,
		Tags:        input.Tags,
		RepoURL:     input.RepoURL,
		DemoURL:     input.DemoURL,
		Published:   input.Published,
	}
	if err := s.store.InsertContent(ctx, item); err != nil {
		return nil, err
	}

	s.syncSearchIndex(item)
	return contentPayload(item, true), nil
}

// UpdateContent rewrites a post or project. Admin only. Unpublishing
// removes the item from the search index.
func (s *Service) UpdateContent(ctx context.Context, session Session, contentID string, input ContentInput) (map[string]any, error) {
	if !session.IsAdmin() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if err := validateContentInput(item.Kind, input); err != nil {
		return nil, err
	}

	item.Slug = input.Slug
	item.Title = input.Title
	item.Description = input.Description
	item.Body = input.Body
	item.Tags = input.Tags
	item.RepoURL = input.RepoURL
	item.DemoURL = input.DemoURL
	item.Published = input.Published
	if err := s.store.UpdateContent(ctx, item); err != nil {
		return nil, err
	}

	s.syncSearchIndex(item)
	return contentPayload(item, true), nil
}

// DeleteContent removes a post or project. Admin only.
func (s *Service) DeleteContent(ctx context.Context, session Session, contentID string) error {
	if !session.IsAdmin() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.DeleteContent(ctx, contentID); err != nil {
		return err
	}
	s.search.DeleteContent(contentID)
	return nil
}

// Search runs a full-text query over published posts and projects. The
// admin may include unpublished drafts.
func (s *Service) Search(ctx context.Context, session Session, text, kind, tag string, limit, offset int) (search.Response, error) {
	if kind != "" {
		if _, ok := allowedContentKinds[kind]; !ok {
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be post or project", nil)
		}
	}
	q := search.Query{
		Text:               strings.TrimSpace(text),
		FilterKind:         kind,
		FilterTag:          tag,
		IncludeUnpublished: session.IsAdmin(),
		Limit:              limit,
		Offset:             offset,
	}
	return s.search.Search(q), nil
}

// Subscribe adds (or reactivates) a newsletter subscriber.
func (s *Service) Subscribe(ctx context.Context, email string) (map[string]any, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || len(email) < 3 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	subscriber, err := s.store.UpsertSubscriber(ctx, util.NewID("sub"), email)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       subscriber.ID,
		"email":    subscriber.Email,
		"isActive": subscriber.IsActive,
	}, nil
}

// Unsubscribe soft-deactivates a subscriber. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}
	if err := s.store.DeactivateSubscriber(ctx, email); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}

// syncSearchIndex pushes published content to the index and evicts
// everything else.
func (s *Service) syncSearchIndex(item store.Content) {
	if !item.Published {
		s.search.DeleteContent(item.ID)
		return
	}
	s.search.IndexContent(search.ContentRecord{
		ID:          item.ID,
		Kind:        item.Kind,
		Slug:        item.Slug,
		Title:       item.Title,
		Description: item.Description,
		Body:        item.Body,
		Tags:        item.Tags,
		Published:   item.Published,
	})
}

func contentPayload(item store.Content, isAdmin bool) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"kind":        item.Kind,
		"slug":        item.Slug,
		"title":       item.Title,
		"description": item.Description,
		"tags":        item.Tags,
		"likes":       item.LikeCount,
		"shares":      item.ShareCount,
		"views":       item.ViewCount,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
	if item.Kind == "post" {
		payload["body"] = item.Body
	}
	if item.Kind == "project" {
		payload["repoUrl"] = item.RepoURL
		payload["demoUrl"] = item.DemoURL
	}
	if isAdmin {
		payload["published"] = item.Published
	}
	return payload
}
