package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrDuplicateTokenHash = errors.New("refresh token hash already exists")
)

// SessionRepository stores refresh token records keyed by the token hash. Plaintext
// refresh tokens never reach this layer.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	// MarkUsed flips used from false to true and reports whether this call flipped it.
	MarkUsed(ctx context.Context, sessionID uint, at time.Time, reason string) (bool, error)
	// ReleaseUsed clears a used flag set with reason and reports whether it did.
	ReleaseUsed(ctx context.Context, sessionID uint, reason string) (bool, error)
	DeleteByHash(ctx context.Context, userID uint, hash string) (bool, error)
	DeleteByIDForUser(ctx context.Context, userID, sessionID uint) (bool, error)
	DeleteAllByUserID(ctx context.Context, userID uint) (int64, error)
	CountLive(ctx context.Context, userID uint, now time.Time) (int64, error)
	OldestLive(ctx context.Context, userID uint, now time.Time, limit int) ([]uint, error)
	DeleteByIDs(ctx context.Context, userID uint, ids []uint) (int64, error)
	ListLiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if isUniqueViolation(err) {
		err = ErrDuplicateTokenHash
	}
	recordSessionOp(ctx, "create", err)
	return err
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	recordSessionOp(ctx, "find_by_hash", err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).Where("refresh_token_hash = ?", hash).Count(&n).Error
	recordSessionOp(ctx, "exists_by_hash", err)
	return n > 0, err
}

func (r *GormSessionRepository) MarkUsed(ctx context.Context, sessionID uint, at time.Time, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND used = ?", sessionID, false).
		Updates(map[string]any{"used": true, "used_at": at.UTC(), "used_reason": reason})
	recordSessionOp(ctx, "mark_used", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormSessionRepository) ReleaseUsed(ctx context.Context, sessionID uint, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND used = ? AND used_reason = ?", sessionID, true, reason).
		Updates(map[string]any{"used": false, "used_at": nil, "used_reason": ""})
	recordSessionOp(ctx, "release_used", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormSessionRepository) DeleteByHash(ctx context.Context, userID uint, hash string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND refresh_token_hash = ?", userID, hash).
		Delete(&domain.Session{})
	recordSessionOp(ctx, "delete_by_hash", res.Error)
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) DeleteByIDForUser(ctx context.Context, userID, sessionID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, sessionID).
		Delete(&domain.Session{})
	recordSessionOp(ctx, "delete_by_id_for_user", res.Error)
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) DeleteAllByUserID(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Session{})
	recordSessionOp(ctx, "delete_all_by_user_id", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) CountLive(ctx context.Context, userID uint, now time.Time) (int64, error) {
	var n int64
	err := r.liveQuery(ctx, userID, now).Count(&n).Error
	recordSessionOp(ctx, "count_live", err)
	return n, err
}

func (r *GormSessionRepository) OldestLive(ctx context.Context, userID uint, now time.Time, limit int) ([]uint, error) {
	if limit <= 0 {
		return nil, nil
	}
	var ids []uint
	err := r.liveQuery(ctx, userID, now).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	recordSessionOp(ctx, "oldest_live", err)
	return ids, err
}

func (r *GormSessionRepository) DeleteByIDs(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&domain.Session{})
	recordSessionOp(ctx, "delete_by_ids", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) ListLiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.liveQuery(ctx, userID, now).
		Order("created_at DESC").Order("id DESC").
		Find(&sessions).Error
	recordSessionOp(ctx, "list_live_by_user_id", err)
	return sessions, err
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Session{})
	recordSessionOp(ctx, "cleanup_expired", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) liveQuery(ctx context.Context, userID uint, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND used = ? AND expires_at > ?", userID, false, now.UTC())
}

func recordSessionOp(ctx context.Context, op string, err error) {
	observability.RecordRepositoryOperation(ctx, "session", op, repositoryOutcome(err))
}

func repositoryOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateTokenHash), errors.Is(err, ErrAccountExists):
		return "conflict"
	default:
		return "error"
	}
}
