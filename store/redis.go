package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a Store backed by Redis so multiple server instances can share
// sessions, history and tasks. Session metadata and tasks live as JSON
// string values under keys carrying their TTL (with their ids kept in a set
// each), history in a stream (trimmed to a bounded length), and the
// token-hash index in
// plain keys swapped atomically via a Lua script.
type Redis struct {
	rdb        *redis.Client
	prefix     string
	historyCap int64

	appendScript *redis.Script
	tokenScript  *redis.Script
}

// NewRedis creates a Redis-backed store. prefix defaults to "mcp:" and
// historyCap (applied via XTRIM on every append) defaults to
// DefaultHistoryCap.
func NewRedis(rdb *redis.Client, prefix string, historyCap int) *Redis {
	if prefix == "" {
		prefix = "mcp:"
	}
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Redis{
		rdb:        rdb,
		prefix:     prefix,
		historyCap: int64(historyCap),
		appendScript: redis.NewScript(`
			local seqKey = KEYS[1]
			local streamKey = KEYS[2]
			local id = redis.call('INCR', seqKey)
			redis.call('XADD', streamKey, id .. '-0', 'data', ARGV[1])
			redis.call('XTRIM', streamKey, 'MAXLEN', '~', ARGV[2])
			return id
		`),
		tokenScript: redis.NewScript(`
			local oldHashKey = KEYS[1]
			local newTokenKey = KEYS[2]
			local sessionID = ARGV[1]
			local oldHash = redis.call('GET', oldHashKey)
			if oldHash then
				redis.call('DEL', ARGV[2] .. oldHash)
			end
			redis.call('SET', newTokenKey, sessionID)
			redis.call('SET', oldHashKey, ARGV[3])
			return 1
		`),
	}
}

func (s *Redis) keySession(id string) string     { return s.prefix + "session:" + id }
func (s *Redis) keyHistory(id string) string      { return s.prefix + "session:" + id + ":history" }
func (s *Redis) keySeq(id string) string           { return s.prefix + "session:" + id + ":seq" }
func (s *Redis) keyLastHash(id string) string      { return s.prefix + "session:" + id + ":tokenhash" }
func (s *Redis) keyToken(hash string) string       { return s.prefix + "token:" + hash }
func (s *Redis) keyTask(id string) string          { return s.prefix + "task:" + id }
func (s *Redis) keySessionsIndex() string          { return s.prefix + "sessions" }
func (s *Redis) keyTasksIndex() string             { return s.prefix + "tasks" }

func (s *Redis) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if session.TTL == 0 {
		session.TTL = DefaultSessionTTL
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(session.ID), data, session.TTL)
	pipe.SAdd(ctx, s.keySessionsIndex(), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Redis) GetSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Redis) UpdateSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := session.TTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return s.rdb.Set(ctx, s.keySession(session.ID), data, ttl).Err()
}

func (s *Redis) DeleteSession(ctx context.Context, id string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keySession(id), s.keyHistory(id), s.keySeq(id))
	pipe.SRem(ctx, s.keySessionsIndex(), id)
	if session != nil && session.AuthContext != nil && session.AuthContext.TokenHash != "" {
		pipe.Del(ctx, s.keyToken(session.AuthContext.TokenHash))
	}
	pipe.Del(ctx, s.keyLastHash(id))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) AddMessage(ctx context.Context, id string, eventID uint64, message []byte) error {
	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyHistory(id),
		ID:     fmt.Sprintf("%d-0", eventID),
		Values: map[string]interface{}{"data": message},
	})
	pipe.XTrimMaxLenApprox(ctx, s.keyHistory(id), s.historyCap, 0)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	return s.touch(ctx, id)
}

func (s *Redis) AddMessageWithAutoEventID(ctx context.Context, id string, message []byte) (uint64, error) {
	res, err := s.appendScript.Run(ctx, s.rdb,
		[]string{s.keySeq(id), s.keyHistory(id)},
		message, s.historyCap,
	).Int64()
	if err != nil {
		return 0, err
	}
	_ = s.touch(ctx, id)
	return uint64(res), nil
}

func (s *Redis) touch(ctx context.Context, id string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.LastActivity = time.Now()
	return s.UpdateSession(ctx, session)
}

func (s *Redis) GetMessagesFrom(ctx context.Context, id string, fromEventID uint64) ([]HistoryEntry, error) {
	start := fmt.Sprintf("(%d-0", fromEventID)
	if fromEventID == 0 {
		start = "-"
	}
	entries, err := s.rdb.XRange(ctx, s.keyHistory(id), start, "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		eventID, _ := parseStreamID(e.ID)
		data, _ := e.Values["data"].(string)
		out = append(out, HistoryEntry{EventID: eventID, Message: []byte(data)})
	}
	return out, nil
}

func (s *Redis) GetSessionByTokenHash(ctx context.Context, hash string) (*Session, error) {
	id, err := s.rdb.Get(ctx, s.keyToken(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetSession(ctx, id)
}

func (s *Redis) AddTokenMapping(ctx context.Context, hash, sessionID string) error {
	return s.tokenScript.Run(ctx, s.rdb,
		[]string{s.keyLastHash(sessionID), s.keyToken(hash)},
		sessionID, s.prefix+"token:", hash,
	).Err()
}

func (s *Redis) RemoveTokenMapping(ctx context.Context, hash string) error {
	return s.rdb.Del(ctx, s.keyToken(hash)).Err()
}

func (s *Redis) Sessions(ctx context.Context) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.keySessionsIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.rdb.SRem(ctx, s.keySessionsIndex(), id)
				continue
			}
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *Redis) CreateTask(ctx context.Context, task *Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyTask(task.ID), data, task.TTL)
	pipe.SAdd(ctx, s.keyTasksIndex(), task.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) GetTask(ctx context.Context, id string) (*Task, error) {
	raw, err := s.rdb.Get(ctx, s.keyTask(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	task := &Task{}
	if err := json.Unmarshal(raw, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Redis) UpdateTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyTask(task.ID), data, task.TTL).Err()
}

func (s *Redis) Tasks(ctx context.Context) ([]*Task, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyTasksIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.rdb.SRem(ctx, s.keyTasksIndex(), id)
				continue
			}
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

// Cleanup is a no-op on Redis: keys carry their own TTLs, and Sessions/
// Tasks already reap stale index entries on access.
func (s *Redis) Cleanup(ctx context.Context) error {
	return nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

// AppendEvent satisfies the EventStore adapter in eventstore.go.
func (s *Redis) AppendEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	return s.AddMessageWithAutoEventID(ctx, sessionID, data)
}

// EventsAfter satisfies the EventStore adapter in eventstore.go.
func (s *Redis) EventsAfter(ctx context.Context, sessionID string, lastID uint64) ([]HistoryEntry, error) {
	return s.GetMessagesFrom(ctx, sessionID, lastID)
}

func parseStreamID(id string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(id, "%d-0", &n)
	return n, err
}
