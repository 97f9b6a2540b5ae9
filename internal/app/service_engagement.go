package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/util"
)

// identityFor resolves the engagement actor: the signed-in account when a
// session exists, otherwise the anonymous device id from the request.
func identityFor(session Session, deviceID string) (store.Identity, error) {
	if session.UserID != "" {
		return store.Identity{UserID: session.UserID}, nil
	}
	if deviceID != "" {
		return store.Identity{DeviceID: deviceID}, nil
	}
	return store.Identity{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "x-device-id header is required for anonymous engagement", nil)
}

// engageableContent loads the target and hides unpublished content behind a
// plain not-found, same as the read path.
func (s *Service) engageableContent(ctx context.Context, session Session, contentID string) (store.Content, error) {
	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return store.Content{}, err
	}
	if !item.Published && !session.IsAdmin() {
		return store.Content{}, sql.ErrNoRows
	}
	return item, nil
}

// AddLike adds one like for the identity, up to the per-content cap.
func (s *Service) AddLike(ctx context.Context, session Session, contentID, deviceID string) (map[string]any, error) {
	identity, err := identityFor(session, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engageableContent(ctx, session, contentID); err != nil {
		return nil, err
	}

	count, err := s.store.AddLike(ctx, util.NewID("like"), contentID, identity)
	if err != nil {
		if errors.Is(err, store.ErrLikeLimit) {
			return nil, domainError(http.StatusTooManyRequests, "LIMIT_EXCEEDED", "Like limit reached for this content", nil)
		}
		return nil, err
	}

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contentId": contentID,
		"likeCount": count,
		"likes":     item.LikeCount,
	}, nil
}

// ToggleReaction runs the per-identity reaction state machine and returns
// the resulting counts plus the identity's current reaction.
func (s *Service) ToggleReaction(ctx context.Context, session Session, contentID, deviceID, reactionType string) (map[string]any, error) {
	if _, ok := allowedReactionTypes[reactionType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown reaction type", nil)
	}
	identity, err := identityFor(session, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engageableContent(ctx, session, contentID); err != nil {
		return nil, err
	}

	current, err := s.store.ToggleReaction(ctx, util.NewID("rct"), contentID, identity, reactionType)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.ListReactionCounts(ctx, contentID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"contentId": contentID,
		"reactions": reactionCountsPayload(counts),
	}
	if current == "" {
		payload["userReaction"] = nil
	} else {
		payload["userReaction"] = current
	}
	return payload, nil
}

// ListReactions returns the reaction counts and, when an identity is
// available, that identity's own reaction and spent likes.
func (s *Service) ListReactions(ctx context.Context, session Session, contentID, deviceID string) (map[string]any, error) {
	if _, err := s.engageableContent(ctx, session, contentID); err != nil {
		return nil, err
	}

	counts, err := s.store.ListReactionCounts(ctx, contentID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"contentId":    contentID,
		"reactions":    reactionCountsPayload(counts),
		"userReaction": nil,
		"userLikes":    0,
	}

	if identity, err := identityFor(session, deviceID); err == nil {
		reaction, err := s.store.GetReaction(ctx, contentID, identity)
		if err == nil {
			payload["userReaction"] = reaction.Type
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		like, err := s.store.GetLike(ctx, contentID, identity)
		if err == nil {
			payload["userLikes"] = like.Count
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return payload, nil
}

// RecordShare counts one share per identity per content.
func (s *Service) RecordShare(ctx context.Context, session Session, contentID, deviceID string) (map[string]any, error) {
	identity, err := identityFor(session, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engageableContent(ctx, session, contentID); err != nil {
		return nil, err
	}

	recorded, err := s.store.RecordShare(ctx, util.NewID("shr"), contentID, identity)
	if err != nil {
		return nil, err
	}

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contentId": contentID,
		"recorded":  recorded,
		"shares":    item.ShareCount,
	}, nil
}

func reactionCountsPayload(counts []store.ReactionCount) map[string]int {
	payload := make(map[string]int, len(counts))
	for _, count := range counts {
		payload[count.Type] = count.Count
	}
	return payload
}
