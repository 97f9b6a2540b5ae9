package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrLikeLimit reports that an identity already holds the maximum number of
// likes on a content item.
var ErrLikeLimit = errors.New("like limit reached")

const maxLikesPerIdentity = 3

// identityPredicate returns the WHERE fragment and argument selecting an
// engagement row for the given identity.
func identityPredicate(identity Identity, argN int) (string, any) {
	if identity.IsUser() {
		return fmt.Sprintf("user_id=$%d", argN), identity.UserID
	}
	return fmt.Sprintf("device_id=$%d", argN), identity.DeviceID
}

func (s *PostgresStore) GetLike(ctx context.Context, contentID string, identity Identity) (Like, error) {
	predicate, arg := identityPredicate(identity, 2)
	var like Like
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, COALESCE(user_id, ''), COALESCE(device_id, ''), like_count, created_at, updated_at
		FROM content_likes WHERE content_id=$1 AND `+predicate,
		contentID, arg,
	).Scan(&like.ID, &like.ContentID, &like.Identity.UserID, &like.Identity.DeviceID, &like.Count, &like.CreatedAt, &like.UpdatedAt)
	if err != nil {
		return Like{}, err
	}
	return like, nil
}

// AddLike increments the identity's like on a content item, capped at three.
// The per-identity row and the aggregate counter move together in one
// transaction; the upsert's guard makes a concurrent fourth like lose cleanly
// instead of overshooting.
func (s *PostgresStore) AddLike(ctx context.Context, likeID, contentID string, identity Identity) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add like: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var upsert string
	var identityArg any
	if identity.IsUser() {
		upsert = `
			INSERT INTO content_likes (id, content_id, user_id, like_count)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (content_id, user_id) WHERE user_id IS NOT NULL
			DO UPDATE SET like_count = content_likes.like_count + 1, updated_at=NOW()
			WHERE content_likes.like_count < $4
			RETURNING like_count`
		identityArg = identity.UserID
	} else {
		upsert = `
			INSERT INTO content_likes (id, content_id, device_id, like_count)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (content_id, device_id) WHERE device_id IS NOT NULL
			DO UPDATE SET like_count = content_likes.like_count + 1, updated_at=NOW()
			WHERE content_likes.like_count < $4
			RETURNING like_count`
		identityArg = identity.DeviceID
	}

	var count int
	err = tx.QueryRowContext(ctx, upsert, likeID, contentID, identityArg, maxLikesPerIdentity).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return maxLikesPerIdentity, ErrLikeLimit
	}
	if err != nil {
		return 0, fmt.Errorf("upsert like: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE contents SET like_count = like_count + 1 WHERE id=$1
	`, contentID); err != nil {
		return 0, fmt.Errorf("increment aggregate likes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add like: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetReaction(ctx context.Context, contentID string, identity Identity) (Reaction, error) {
	predicate, arg := identityPredicate(identity, 2)
	var reaction Reaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, COALESCE(user_id, ''), COALESCE(device_id, ''), reaction_type, created_at, updated_at
		FROM content_reactions WHERE content_id=$1 AND `+predicate,
		contentID, arg,
	).Scan(&reaction.ID, &reaction.ContentID, &reaction.Identity.UserID, &reaction.Identity.DeviceID, &reaction.Type, &reaction.CreatedAt, &reaction.UpdatedAt)
	if err != nil {
		return Reaction{}, err
	}
	return reaction, nil
}

// ToggleReaction runs the reaction state machine for one (content, identity)
// pair and returns the identity's reaction after the call, empty when toggled
// off. The existing row is locked for the duration so concurrent toggles
// serialize instead of racing the read-then-decide step.
func (s *PostgresStore) ToggleReaction(ctx context.Context, reactionID, contentID string, identity Identity, reactionType string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin toggle reaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	predicate, arg := identityPredicate(identity, 2)
	var existingID, existingType string
	err = tx.QueryRowContext(ctx, `
		SELECT id, reaction_type FROM content_reactions
		WHERE content_id=$1 AND `+predicate+`
		FOR UPDATE
	`, contentID, arg).Scan(&existingID, &existingType)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert := `INSERT INTO content_reactions (id, content_id, user_id, reaction_type) VALUES ($1, $2, $3, $4)`
		identityVal := any(identity.UserID)
		if !identity.IsUser() {
			insert = `INSERT INTO content_reactions (id, content_id, device_id, reaction_type) VALUES ($1, $2, $3, $4)`
			identityVal = identity.DeviceID
		}
		if _, err := tx.ExecContext(ctx, insert, reactionID, contentID, identityVal, reactionType); err != nil {
			return "", fmt.Errorf("insert reaction: %w", err)
		}
		if err := incrementReactionCount(ctx, tx, contentID, reactionType); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit toggle reaction: %w", err)
		}
		return reactionType, nil

	case err != nil:
		return "", fmt.Errorf("lookup reaction: %w", err)

	case existingType == reactionType:
		if _, err := tx.ExecContext(ctx, `DELETE FROM content_reactions WHERE id=$1`, existingID); err != nil {
			return "", fmt.Errorf("delete reaction: %w", err)
		}
		if err := decrementReactionCount(ctx, tx, contentID, existingType); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit toggle reaction: %w", err)
		}
		return "", nil

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE content_reactions SET reaction_type=$2, updated_at=NOW() WHERE id=$1
		`, existingID, reactionType); err != nil {
			return "", fmt.Errorf("update reaction: %w", err)
		}
		if err := decrementReactionCount(ctx, tx, contentID, existingType); err != nil {
			return "", err
		}
		if err := incrementReactionCount(ctx, tx, contentID, reactionType); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit toggle reaction: %w", err)
		}
		return reactionType, nil
	}
}

func incrementReactionCount(ctx context.Context, tx *sql.Tx, contentID, reactionType string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO content_reaction_counts (content_id, reaction_type, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (content_id, reaction_type)
		DO UPDATE SET count = content_reaction_counts.count + 1
	`, contentID, reactionType)
	if err != nil {
		return fmt.Errorf("increment reaction count: %w", err)
	}
	return nil
}

func decrementReactionCount(ctx context.Context, tx *sql.Tx, contentID, reactionType string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE content_reaction_counts SET count = GREATEST(count - 1, 0)
		WHERE content_id=$1 AND reaction_type=$2
	`, contentID, reactionType)
	if err != nil {
		return fmt.Errorf("decrement reaction count: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReactionCounts(ctx context.Context, contentID string) ([]ReactionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reaction_type, count FROM content_reaction_counts
		WHERE content_id=$1 AND count > 0
		ORDER BY reaction_type
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list reaction counts: %w", err)
	}
	defer rows.Close()

	counts := make([]ReactionCount, 0)
	for rows.Next() {
		var rc ReactionCount
		if err := rows.Scan(&rc.Type, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		counts = append(counts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return counts, nil
}

// RecordShare registers at most one share per identity per content item and
// reports whether this call created it.
func (s *PostgresStore) RecordShare(ctx context.Context, shareID, contentID string, identity Identity) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin record share: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var insert string
	var identityArg any
	if identity.IsUser() {
		insert = `
			INSERT INTO content_shares (id, content_id, user_id) VALUES ($1, $2, $3)
			ON CONFLICT (content_id, user_id) WHERE user_id IS NOT NULL DO NOTHING`
		identityArg = identity.UserID
	} else {
		insert = `
			INSERT INTO content_shares (id, content_id, device_id) VALUES ($1, $2, $3)
			ON CONFLICT (content_id, device_id) WHERE device_id IS NOT NULL DO NOTHING`
		identityArg = identity.DeviceID
	}

	res, err := tx.ExecContext(ctx, insert, shareID, contentID, identityArg)
	if err != nil {
		return false, fmt.Errorf("insert share: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert share rows: %w", err)
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE contents SET share_count = share_count + 1 WHERE id=$1`, contentID); err != nil {
		return false, fmt.Errorf("increment aggregate shares: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit record share: %w", err)
	}
	return true, nil
}

// MergeDeviceEngagement folds a device's anonymous engagement into the
// signed-in account. Likes merge up to the per-identity cap, with only the
// post-cap overflow backed out of the aggregate; shares and reactions
// transfer when the account has none for that content and are dropped (with
// their counters corrected) otherwise.
func (s *PostgresStore) MergeDeviceEngagement(ctx context.Context, userID, deviceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge engagement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := mergeLikes(ctx, tx, userID, deviceID); err != nil {
		return err
	}
	if err := mergeShares(ctx, tx, userID, deviceID); err != nil {
		return err
	}
	if err := mergeReactions(ctx, tx, userID, deviceID); err != nil {
		return err
	}

	return tx.Commit()
}

func mergeLikes(ctx context.Context, tx *sql.Tx, userID, deviceID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, content_id, like_count FROM content_likes WHERE device_id=$1 FOR UPDATE
	`, deviceID)
	if err != nil {
		return fmt.Errorf("list device likes: %w", err)
	}
	type deviceLike struct {
		id        string
		contentID string
		count     int
	}
	var deviceLikes []deviceLike
	for rows.Next() {
		var dl deviceLike
		if err := rows.Scan(&dl.id, &dl.contentID, &dl.count); err != nil {
			rows.Close()
			return fmt.Errorf("scan device like: %w", err)
		}
		deviceLikes = append(deviceLikes, dl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate device likes: %w", err)
	}

	for _, dl := range deviceLikes {
		var accountCount int
		err := tx.QueryRowContext(ctx, `
			SELECT like_count FROM content_likes
			WHERE content_id=$1 AND user_id=$2
			FOR UPDATE
		`, dl.contentID, userID).Scan(&accountCount)

		if errors.Is(err, sql.ErrNoRows) {
			// No account row: the device row becomes it, counts unchanged.
			if _, err := tx.ExecContext(ctx, `
				UPDATE content_likes SET user_id=$2, device_id=NULL, updated_at=NOW() WHERE id=$1
			`, dl.id, userID); err != nil {
				return fmt.Errorf("reassign device like: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup account like: %w", err)
		}

		merged := accountCount + dl.count
		if merged > maxLikesPerIdentity {
			merged = maxLikesPerIdentity
		}
		overflow := accountCount + dl.count - merged

		if _, err := tx.ExecContext(ctx, `
			UPDATE content_likes SET like_count=$3, updated_at=NOW()
			WHERE content_id=$1 AND user_id=$2
		`, dl.contentID, userID, merged); err != nil {
			return fmt.Errorf("merge like counts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM content_likes WHERE id=$1`, dl.id); err != nil {
			return fmt.Errorf("delete device like: %w", err)
		}
		if overflow > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE contents SET like_count = GREATEST(like_count - $2, 0) WHERE id=$1
			`, dl.contentID, overflow); err != nil {
				return fmt.Errorf("back out like overflow: %w", err)
			}
		}
	}
	return nil
}

func mergeShares(ctx context.Context, tx *sql.Tx, userID, deviceID string) error {
	// Transfer device shares for contents the account has not shared.
	if _, err := tx.ExecContext(ctx, `
		UPDATE content_shares cs SET user_id=$1, device_id=NULL
		WHERE cs.device_id=$2
			AND NOT EXISTS (
				SELECT 1 FROM content_shares other
				WHERE other.content_id=cs.content_id AND other.user_id=$1
			)
	`, userID, deviceID); err != nil {
		return fmt.Errorf("reassign device shares: %w", err)
	}

	// Duplicates were already counted once for the account; back the device
	// copies out of the aggregates and drop them.
	if _, err := tx.ExecContext(ctx, `
		UPDATE contents c SET share_count = GREATEST(c.share_count - dup.n, 0)
		FROM (
			SELECT content_id, COUNT(*) AS n FROM content_shares
			WHERE device_id=$1 GROUP BY content_id
		) dup
		WHERE c.id = dup.content_id
	`, deviceID); err != nil {
		return fmt.Errorf("back out duplicate shares: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_shares WHERE device_id=$1`, deviceID); err != nil {
		return fmt.Errorf("delete device shares: %w", err)
	}
	return nil
}

func mergeReactions(ctx context.Context, tx *sql.Tx, userID, deviceID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE content_reactions cr SET user_id=$1, device_id=NULL, updated_at=NOW()
		WHERE cr.device_id=$2
			AND NOT EXISTS (
				SELECT 1 FROM content_reactions other
				WHERE other.content_id=cr.content_id AND other.user_id=$1
			)
	`, userID, deviceID); err != nil {
		return fmt.Errorf("reassign device reactions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE content_reaction_counts crc SET count = GREATEST(crc.count - dup.n, 0)
		FROM (
			SELECT content_id, reaction_type, COUNT(*) AS n FROM content_reactions
			WHERE device_id=$1 GROUP BY content_id, reaction_type
		) dup
		WHERE crc.content_id = dup.content_id AND crc.reaction_type = dup.reaction_type
	`, deviceID); err != nil {
		return fmt.Errorf("back out duplicate reactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_reactions WHERE device_id=$1`, deviceID); err != nil {
		return fmt.Errorf("delete device reactions: %w", err)
	}
	return nil
}
