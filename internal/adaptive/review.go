package adaptive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// TriggerWrongStreak names the only review trigger.
const TriggerWrongStreak = "wrong_streak"

// DefaultReviewStreak is the wrong-answer streak that raises a suggestion.
const DefaultReviewStreak = 4

// Suggestion is advisory output; it never mutates the session.
type Suggestion struct {
	Trigger string          `json:"trigger"`
	Streak  int             `json:"streak"`
	EaseTo  quiz.Difficulty `json:"easeTo"`
}

// MarkerStore remembers that a suggestion was shown during the current
// streak episode.
type MarkerStore interface {
	// Mark sets the marker and reports whether it was newly set.
	Mark(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// ReviewTrigger emits at most one suggestion per unbroken wrong streak.
type ReviewTrigger struct {
	threshold int
	markers   MarkerStore
}

func NewReviewTrigger(threshold int, markers MarkerStore) *ReviewTrigger {
	if threshold <= 0 {
		threshold = DefaultReviewStreak
	}
	if markers == nil {
		markers = NewMemoryMarkers()
	}
	return &ReviewTrigger{threshold: threshold, markers: markers}
}

// Evaluate inspects the session after an update. A streak of zero resets the
// marker; a streak at or past the threshold emits once until that reset.
func (t *ReviewTrigger) Evaluate(ctx context.Context, s *quiz.Session) (*Suggestion, error) {
	if s.WrongStreak == 0 {
		if err := t.markers.Clear(ctx, s.ID); err != nil {
			return nil, fmt.Errorf("clear review marker: %w", err)
		}
		return nil, nil
	}
	if s.WrongStreak < t.threshold {
		return nil, nil
	}

	fresh, err := t.markers.Mark(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("set review marker: %w", err)
	}
	if !fresh {
		return nil, nil
	}
	return &Suggestion{
		Trigger: TriggerWrongStreak,
		Streak:  s.WrongStreak,
		EaseTo:  s.CurrentDifficulty.Easier(),
	}, nil
}

// MemoryMarkers keeps markers in process memory.
type MemoryMarkers struct {
	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{seen: make(map[uuid.UUID]struct{})}
}

func (m *MemoryMarkers) Mark(_ context.Context, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[sessionID]; ok {
		return false, nil
	}
	m.seen[sessionID] = struct{}{}
	return true, nil
}

func (m *MemoryMarkers) Clear(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, sessionID)
	return nil
}

const defaultMarkerTTL = 24 * time.Hour

// RedisMarkers stores markers as expiring Redis keys so every API node sees
// the same episode state.
type RedisMarkers struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMarkers(client *redis.Client, ttl time.Duration) *RedisMarkers {
	if ttl <= 0 {
		ttl = defaultMarkerTTL
	}
	return &RedisMarkers{client: client, prefix: "quiz:review", ttl: ttl}
}

func (r *RedisMarkers) key(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", r.prefix, sessionID.String())
}

// Mark refreshes the TTL on every call, so a marker outlives a running
// streak as long as answers arrive within ttl of each other.
func (r *RedisMarkers) Mark(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	key := r.key(sessionID)
	var created *redis.BoolCmd
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, key, 1, r.ttl)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	}); err != nil {
		return false, err
	}
	return created.Val(), nil
}

func (r *RedisMarkers) Clear(ctx context.Context, sessionID uuid.UUID) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}
