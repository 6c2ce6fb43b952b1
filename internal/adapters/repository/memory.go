package repository

import (
	"context"
	"hash/fnv"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/okian/momentum/internal/domain/model"
)

// MemoryStore keeps events and scores in process memory, sharded by user.
// Each shard has its own lock so unrelated users never contend.
type MemoryStore struct {
	shardCount int
	shards     []*memShard
	closed     atomic.Bool
}

type memShard struct {
	mu     sync.RWMutex
	events map[string]map[model.Date][]model.EngagementEvent
	scores map[string]map[model.Date]model.DailyEngagementScore
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{shardCount: defaultShardCount}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*memShard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &memShard{
			events: make(map[string]map[model.Date][]model.EngagementEvent),
			scores: make(map[string]map[model.Date]model.DailyEngagementScore),
		}
	}
	return s
}

func (s *MemoryStore) shard(userID string) *memShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error) {
	defer observe(opEventsForDay)()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	userID = model.CanonicalUserID(userID)
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return slices.Clone(sh.events[userID][day]), nil
}

func (s *MemoryStore) ActiveUsers(ctx context.Context, from, to model.Date) ([]string, error) {
	defer observe(opActiveUsers)()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var users []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for userID, days := range sh.events {
			for day, evs := range days {
				if len(evs) > 0 && !day.Before(from) && !day.After(to) {
					users = append(users, userID)
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) AppendEvents(ctx context.Context, events ...model.EngagementEvent) error {
	defer observe(opAppendEvents)()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, ev := range events {
		ev.UserID = model.CanonicalUserID(ev.UserID)
		sh := s.shard(ev.UserID)
		sh.mu.Lock()
		days, ok := sh.events[ev.UserID]
		if !ok {
			days = make(map[model.Date][]model.EngagementEvent)
			sh.events[ev.UserID] = days
		}
		days[ev.OccurredOn] = append(days[ev.OccurredOn], ev)
		sh.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) History(ctx context.Context, userID string, before model.Date, lookbackDays int) ([]model.DailyEngagementScore, error) {
	defer observe(opHistory)()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	userID = model.CanonicalUserID(userID)
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []model.DailyEngagementScore
	for day, score := range sh.scores[userID] {
		if !day.Before(before) {
			continue
		}
		if lookbackDays > 0 && day.Before(before.AddDays(-lookbackDays)) {
			continue
		}
		out = append(out, cloneScore(score))
	}
	sortRecentFirst(out)
	if lookbackDays > 0 && len(out) > lookbackDays {
		out = out[:lookbackDays]
	}
	return out, nil
}

func (s *MemoryStore) PreviousState(ctx context.Context, userID string, before model.Date) (model.NullState, error) {
	defer observe(opPreviousState)()
	if err := s.check(ctx); err != nil {
		return model.NullState{}, err
	}
	userID = model.CanonicalUserID(userID)
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var (
		latest model.Date
		prev   model.NullState
	)
	for day, score := range sh.scores[userID] {
		if day.Before(before) && (!prev.Valid || day.After(latest)) {
			latest = day
			prev = model.SomeState(score.MomentumState)
		}
	}
	return prev, nil
}

func (s *MemoryStore) GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	defer observe(opGetScore)()
	if err := s.check(ctx); err != nil {
		return model.DailyEngagementScore{}, err
	}
	userID = model.CanonicalUserID(userID)
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	score, ok := sh.scores[userID][day]
	if !ok {
		return model.DailyEngagementScore{}, ErrNotFound
	}
	return cloneScore(score), nil
}

func (s *MemoryStore) KnownUsers(ctx context.Context) ([]string, error) {
	defer observe(opKnownUsers)()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		for userID := range sh.events {
			seen[userID] = struct{}{}
		}
		for userID := range sh.scores {
			seen[userID] = struct{}{}
		}
		sh.mu.RUnlock()
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *MemoryStore) UpsertScore(ctx context.Context, score model.DailyEngagementScore) error {
	defer observe(opUpsertScore)()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.put(score, true)
	return nil
}

func (s *MemoryStore) InsertDefaultScore(ctx context.Context, score model.DailyEngagementScore) (bool, error) {
	defer observe(opInsertDefault)()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.put(score, false), nil
}

// put stores score and reports whether it was written.
func (s *MemoryStore) put(score model.DailyEngagementScore, replace bool) bool {
	score.UserID = model.CanonicalUserID(score.UserID)
	sh := s.shard(score.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	days, ok := sh.scores[score.UserID]
	if !ok {
		days = make(map[model.Date]model.DailyEngagementScore)
		sh.scores[score.UserID] = days
	}
	if _, exists := days[score.ScoreDate]; exists && !replace {
		return false
	}
	days[score.ScoreDate] = cloneScore(score)
	return true
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func cloneScore(s model.DailyEngagementScore) model.DailyEngagementScore {
	s.Breakdown.PointsByType = maps.Clone(s.Breakdown.PointsByType)
	s.Breakdown.EventsByType = maps.Clone(s.Breakdown.EventsByType)
	s.Breakdown.TopActivities = slices.Clone(s.Breakdown.TopActivities)
	if s.Breakdown.PreviousState != nil {
		prev := *s.Breakdown.PreviousState
		s.Breakdown.PreviousState = &prev
	}
	return s
}

func sortRecentFirst(rows []model.DailyEngagementScore) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ScoreDate.After(rows[j].ScoreDate)
	})
}
