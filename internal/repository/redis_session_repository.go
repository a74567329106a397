package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
)

// Key layout under prefix:
//
//	seq          INCR counter for session ids
//	s:{id}       hash with the session fields, expires at the refresh expiry
//	h:{hash}     token hash -> id
//	u:{userID}   sorted set of ids scored by created_at millis
var (
	createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local id = redis.call('INCR', KEYS[2])
local skey = ARGV[1] .. ':s:' .. id
redis.call('HSET', skey,
  'user_id', ARGV[2], 'token_hash', ARGV[3], 'token_id', ARGV[4],
  'ip', ARGV[5], 'user_agent', ARGV[6], 'fingerprint', ARGV[7],
  'created_at', ARGV[8], 'expires_at', ARGV[9], 'used', '0', 'used_at', '', 'used_reason', '')
redis.call('PEXPIREAT', skey, ARGV[9])
redis.call('SET', KEYS[1], id)
redis.call('PEXPIREAT', KEYS[1], ARGV[9])
redis.call('ZADD', KEYS[3], ARGV[8], id)
return id
`)

	markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1], 'used_reason', ARGV[2])
return 1
`)

	releaseUsedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') ~= '1' then
  return 0
end
if redis.call('HGET', KEYS[1], 'used_reason') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '0', 'used_at', '', 'used_reason', '')
return 1
`)

	deleteSessionIDsScript = redis.NewScript(`
local n = 0
for i = 3, #ARGV do
  local id = ARGV[i]
  local skey = ARGV[1] .. ':s:' .. id
  local uid = redis.call('HGET', skey, 'user_id')
  if not uid then
    redis.call('ZREM', KEYS[1], id)
  elseif uid == ARGV[2] then
    local th = redis.call('HGET', skey, 'token_hash')
    if th then
      redis.call('DEL', ARGV[1] .. ':h:' .. th)
    end
    redis.call('DEL', skey)
    redis.call('ZREM', KEYS[1], id)
    n = n + 1
  end
end
return n
`)

	deleteUserSessionsScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local skey = ARGV[1] .. ':s:' .. id
  local th = redis.call('HGET', skey, 'token_hash')
  if th then
    redis.call('DEL', ARGV[1] .. ':h:' .. th)
    n = n + 1
  end
  redis.call('DEL', skey)
end
redis.call('DEL', KEYS[1])
return n
`)
)

var _ SessionRepository = (*RedisSessionRepository)(nil)

type RedisSessionRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionRepository(client redis.UniversalClient, prefix string) *RedisSessionRepository {
	if prefix == "" {
		prefix = "sessions"
	}
	return &RedisSessionRepository{client: client, prefix: prefix}
}

func (r *RedisSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	id, err := createSessionScript.Run(ctx, r.client,
		[]string{r.hashKey(s.RefreshTokenHash), r.seqKey(), r.userKey(s.UserID)},
		r.prefix,
		strconv.FormatUint(uint64(s.UserID), 10),
		s.RefreshTokenHash,
		s.TokenID,
		s.IP,
		s.UserAgent,
		s.Fingerprint,
		s.CreatedAt.UnixMilli(),
		s.ExpiresAt.UnixMilli(),
	).Int64()
	if err == nil && id == 0 {
		err = ErrDuplicateTokenHash
	}
	recordSessionOp(ctx, "create", err)
	if err != nil {
		return err
	}
	s.ID = uint(id)
	return nil
}

func (r *RedisSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	s, err := r.findByHash(ctx, hash)
	recordSessionOp(ctx, "find_by_hash", err)
	return s, err
}

func (r *RedisSessionRepository) findByHash(ctx context.Context, hash string) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, r.hashKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	fields, err := r.client.HGetAll(ctx, r.sessionKey(uint(id))).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeSession(uint(id), fields)
}

func (r *RedisSessionRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	n, err := r.client.Exists(ctx, r.hashKey(hash)).Result()
	recordSessionOp(ctx, "exists_by_hash", err)
	return n > 0, err
}

func (r *RedisSessionRepository) MarkUsed(ctx context.Context, sessionID uint, at time.Time, reason string) (bool, error) {
	flipped, err := markUsedScript.Run(ctx, r.client, []string{r.sessionKey(sessionID)}, at.UnixMilli(), reason).Int()
	recordSessionOp(ctx, "mark_used", err)
	return flipped == 1, err
}

func (r *RedisSessionRepository) ReleaseUsed(ctx context.Context, sessionID uint, reason string) (bool, error) {
	released, err := releaseUsedScript.Run(ctx, r.client, []string{r.sessionKey(sessionID)}, reason).Int()
	recordSessionOp(ctx, "release_used", err)
	return released == 1, err
}

func (r *RedisSessionRepository) DeleteByHash(ctx context.Context, userID uint, hash string) (bool, error) {
	s, err := r.findByHash(ctx, hash)
	if errors.Is(err, ErrSessionNotFound) {
		recordSessionOp(ctx, "delete_by_hash", nil)
		return false, nil
	}
	if err != nil {
		recordSessionOp(ctx, "delete_by_hash", err)
		return false, err
	}
	n, err := r.deleteIDs(ctx, userID, []uint{s.ID})
	recordSessionOp(ctx, "delete_by_hash", err)
	return n > 0, err
}

func (r *RedisSessionRepository) DeleteByIDForUser(ctx context.Context, userID, sessionID uint) (bool, error) {
	n, err := r.deleteIDs(ctx, userID, []uint{sessionID})
	recordSessionOp(ctx, "delete_by_id_for_user", err)
	return n > 0, err
}

func (r *RedisSessionRepository) DeleteAllByUserID(ctx context.Context, userID uint) (int64, error) {
	n, err := deleteUserSessionsScript.Run(ctx, r.client, []string{r.userKey(userID)}, r.prefix).Int64()
	recordSessionOp(ctx, "delete_all_by_user_id", err)
	return n, err
}

func (r *RedisSessionRepository) CountLive(ctx context.Context, userID uint, now time.Time) (int64, error) {
	live, err := r.liveSessions(ctx, userID, now)
	recordSessionOp(ctx, "count_live", err)
	return int64(len(live)), err
}

func (r *RedisSessionRepository) OldestLive(ctx context.Context, userID uint, now time.Time, limit int) ([]uint, error) {
	if limit <= 0 {
		return nil, nil
	}
	live, err := r.liveSessions(ctx, userID, now)
	recordSessionOp(ctx, "oldest_live", err)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, limit)
	for _, s := range live {
		if len(ids) == limit {
			break
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r *RedisSessionRepository) DeleteByIDs(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.deleteIDs(ctx, userID, ids)
	recordSessionOp(ctx, "delete_by_ids", err)
	return n, err
}

func (r *RedisSessionRepository) ListLiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	live, err := r.liveSessions(ctx, userID, now)
	recordSessionOp(ctx, "list_live_by_user_id", err)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}
	return live, nil
}

// CleanupExpired prunes index entries whose session keys already expired and deletes
// sessions whose expiry is at or before now.
func (r *RedisSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.prefix+":u:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		userID, err := strconv.ParseUint(userKey[len(r.prefix)+3:], 10, 64)
		if err != nil {
			continue
		}
		sessions, missing, err := r.loadIndexed(ctx, uint(userID))
		if err != nil {
			recordSessionOp(ctx, "cleanup_expired", err)
			return removed, err
		}
		if len(missing) > 0 {
			members := make([]any, 0, len(missing))
			for _, id := range missing {
				members = append(members, strconv.FormatUint(uint64(id), 10))
			}
			if err := r.client.ZRem(ctx, userKey, members...).Err(); err != nil {
				recordSessionOp(ctx, "cleanup_expired", err)
				return removed, err
			}
			removed += int64(len(missing))
		}
		var expired []uint
		for _, s := range sessions {
			if !s.ExpiresAt.After(now) {
				expired = append(expired, s.ID)
			}
		}
		if len(expired) > 0 {
			n, err := r.deleteIDs(ctx, uint(userID), expired)
			if err != nil {
				recordSessionOp(ctx, "cleanup_expired", err)
				return removed, err
			}
			removed += n
		}
	}
	err := iter.Err()
	recordSessionOp(ctx, "cleanup_expired", err)
	return removed, err
}

// liveSessions returns unused, unexpired sessions ordered oldest first.
func (r *RedisSessionRepository) liveSessions(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	sessions, _, err := r.loadIndexed(ctx, userID)
	if err != nil {
		return nil, err
	}
	live := sessions[:0]
	for _, s := range sessions {
		if s.Live(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

func (r *RedisSessionRepository) loadIndexed(ctx context.Context, userID uint) ([]domain.Session, []uint, error) {
	members, err := r.client.ZRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, nil, err
	}
	if len(members) == 0 {
		return nil, nil, nil
	}
	ids := make([]uint, 0, len(members))
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
		cmds = append(cmds, pipe.HGetAll(ctx, r.sessionKey(uint(id))))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}
	sessions := make([]domain.Session, 0, len(ids))
	var missing []uint
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			missing = append(missing, ids[i])
			continue
		}
		s, err := decodeSession(ids[i], fields)
		if err != nil {
			return nil, nil, err
		}
		sessions = append(sessions, *s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, missing, nil
}

func (r *RedisSessionRepository) deleteIDs(ctx context.Context, userID uint, ids []uint) (int64, error) {
	args := make([]any, 0, len(ids)+2)
	args = append(args, r.prefix, strconv.FormatUint(uint64(userID), 10))
	for _, id := range ids {
		args = append(args, strconv.FormatUint(uint64(id), 10))
	}
	return deleteSessionIDsScript.Run(ctx, r.client, []string{r.userKey(userID)}, args...).Int64()
}

func decodeSession(id uint, f map[string]string) (*domain.Session, error) {
	userID, err := strconv.ParseUint(f["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode session %d user_id: %w", id, err)
	}
	created, err := parseMillis(f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode session %d created_at: %w", id, err)
	}
	expires, err := parseMillis(f["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode session %d expires_at: %w", id, err)
	}
	s := &domain.Session{
		ID:               id,
		UserID:           uint(userID),
		RefreshTokenHash: f["token_hash"],
		TokenID:          f["token_id"],
		Used:             f["used"] == "1",
		UsedReason:       f["used_reason"],
		IP:               f["ip"],
		UserAgent:        f["user_agent"],
		Fingerprint:      f["fingerprint"],
		CreatedAt:        created,
		ExpiresAt:        expires,
	}
	if v := f["used_at"]; v != "" {
		usedAt, err := parseMillis(v)
		if err == nil {
			s.UsedAt = &usedAt
		}
	}
	return s, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *RedisSessionRepository) seqKey() string { return r.prefix + ":seq" }

func (r *RedisSessionRepository) sessionKey(id uint) string {
	return fmt.Sprintf("%s:s:%d", r.prefix, id)
}

func (r *RedisSessionRepository) hashKey(hash string) string {
	return r.prefix + ":h:" + hash
}

func (r *RedisSessionRepository) userKey(userID uint) string {
	return fmt.Sprintf("%s:u:%d", r.prefix, userID)
}
