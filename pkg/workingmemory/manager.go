// Package workingmemory keeps a small, session-scoped set of memories with
// decaying attention scores.
//
// A session holds at most Capacity entries. Scores decay on every tick but
// never below DecayFloor; only entries explicitly set below DeleteThreshold,
// or idle longer than SessionTimeout, are removed.
package workingmemory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Defaults.
const (
	DefaultCapacity        = 7
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultDecayInterval   = time.Minute
	DefaultDecayRate       = 0.95
	DefaultDecayFloor      = 0.05
	DefaultDeleteThreshold = 0.01
)

// Attention tiers, a display grouping of scores.
const (
	TierFocused    = "focused"
	TierActive     = "active"
	TierPeripheral = "peripheral"
	TierFading     = "fading"
)

// ErrAlreadyRunning is returned by StartDecayLoop when the loop is running.
var ErrAlreadyRunning = errors.New("workingmemory: decay loop already running")

// Config tunes a Manager.
type Config struct {
	Capacity        int           `json:"capacity" koanf:"capacity"`
	SessionTimeout  time.Duration `json:"session_timeout" koanf:"session_timeout"`
	DecayInterval   time.Duration `json:"decay_interval" koanf:"decay_interval"`
	DecayRate       float64       `json:"decay_rate" koanf:"decay_rate"`
	DecayFloor      float64       `json:"decay_floor" koanf:"decay_floor"`
	DeleteThreshold float64       `json:"delete_threshold" koanf:"delete_threshold"`
}

// DefaultConfig returns the standard working-memory configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:        DefaultCapacity,
		SessionTimeout:  DefaultSessionTimeout,
		DecayInterval:   DefaultDecayInterval,
		DecayRate:       DefaultDecayRate,
		DecayFloor:      DefaultDecayFloor,
		DeleteThreshold: DefaultDeleteThreshold,
	}
}

// Validate checks the configuration. The decay floor must stay above the
// delete threshold, otherwise a decayed entry would be deleted and recreated
// on the next focus.
func (c Config) Validate() error {
	switch {
	case c.Capacity < 1:
		return fmt.Errorf("workingmemory: capacity must be positive, got %d", c.Capacity)
	case c.SessionTimeout <= 0:
		return fmt.Errorf("workingmemory: session timeout must be positive")
	case c.DecayInterval <= 0:
		return fmt.Errorf("workingmemory: decay interval must be positive")
	case c.DecayRate <= 0 || c.DecayRate > 1:
		return fmt.Errorf("workingmemory: decay rate must be in (0,1], got %g", c.DecayRate)
	case c.DeleteThreshold < 0 || c.DecayFloor > 1:
		return fmt.Errorf("workingmemory: thresholds must be in [0,1]")
	case c.DecayFloor <= c.DeleteThreshold:
		return fmt.Errorf("workingmemory: decay floor %g must exceed delete threshold %g",
			c.DecayFloor, c.DeleteThreshold)
	}
	return nil
}

// SessionStats summarizes one session.
type SessionStats struct {
	SessionID        string  `json:"session_id"`
	TotalEntries     int     `json:"total_entries"`
	AvgAttention     float64 `json:"avg_attention"`
	MaxAttention     float64 `json:"max_attention"`
	MinAttention     float64 `json:"min_attention"`
	TotalFocusEvents int     `json:"total_focus_events"`
}

// Manager owns the working-memory rows of a store.
type Manager struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. A nil store yields a manager whose methods
// return empty results.
func NewManager(store storage.Store, cfg Config, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logging.OrNop(logger).With(zap.String("component", "working_memory")),
		now:    time.Now,
	}, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// GetOrCreateSession returns sessionID, or a fresh random id when it is empty.
func GetOrCreateSession(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return "wm-" + uuid.NewString()
}

// CalculateTier groups a score: focused >= 0.8, active >= 0.5,
// peripheral >= 0.2, fading below.
func CalculateTier(score float64) string {
	switch {
	case score >= 0.8:
		return TierFocused
	case score >= 0.5:
		return TierActive
	case score >= 0.2:
		return TierPeripheral
	default:
		return TierFading
	}
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}

// SetAttentionScore focuses memoryID in session with score clamped to [0,1].
// An existing entry gets the new score, a fresh lastFocused and a bumped
// focus count. A new entry first evicts the lowest-scored entries so the
// session stays within capacity. Returns false without a store or session.
func (m *Manager) SetAttentionScore(ctx context.Context, sessionID string, memoryID int64, score float64) (bool, error) {
	if m.store == nil || sessionID == "" {
		return false, nil
	}
	score = clampScore(score)
	now := m.now()

	var evicted int
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		e, err := rows.GetWorkingEntry(ctx, sessionID, memoryID)
		switch {
		case err == nil:
			e.AttentionScore = score
			e.LastFocused = now
			e.FocusCount++
			return rows.UpsertWorkingEntry(ctx, e)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		evicted, err = m.enforceMemoryLimit(ctx, rows, sessionID)
		if err != nil {
			return err
		}
		return rows.UpsertWorkingEntry(ctx, &storage.WorkingEntry{
			SessionID:      sessionID,
			MemoryID:       memoryID,
			AttentionScore: score,
			AddedAt:        now,
			LastFocused:    now,
			FocusCount:     1,
		})
	})
	if err != nil {
		return false, fmt.Errorf("set attention score: %w", err)
	}
	if evicted > 0 {
		metrics.WorkingMemoryRemovals.WithLabelValues("evicted").Add(float64(evicted))
		m.logger.Debug("evicted working-memory entries",
			zap.String("session_id", sessionID), zap.Int("evicted", evicted))
	}
	return true, nil
}

// enforceMemoryLimit evicts entries until one more fits within capacity.
// Lowest score goes first; ties fall to the least recently focused entry,
// then the lowest memory id.
func (m *Manager) enforceMemoryLimit(ctx context.Context, rows storage.Rows, sessionID string) (int, error) {
	entries, err := rows.ListWorkingEntries(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(entries) < m.cfg.Capacity {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.AttentionScore != b.AttentionScore {
			return a.AttentionScore < b.AttentionScore
		}
		if !a.LastFocused.Equal(b.LastFocused) {
			return a.LastFocused.Before(b.LastFocused)
		}
		return a.MemoryID < b.MemoryID
	})

	excess := len(entries) - m.cfg.Capacity + 1
	ids := make([]int64, 0, excess)
	for _, e := range entries[:excess] {
		ids = append(ids, e.MemoryID)
	}
	return rows.DeleteWorkingEntries(ctx, sessionID, ids...)
}

// BatchUpdateScores applies one decay tick to session and returns the number
// of rows changed. Scores at or above the floor become
// max(floor, score*rate); lower scores are left alone. Entries below the
// delete threshold are then removed.
func (m *Manager) BatchUpdateScores(ctx context.Context, sessionID string) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	changed, deleted := 0, 0
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		entries, err := rows.ListWorkingEntries(ctx, sessionID)
		if err != nil {
			return err
		}

		var doomed []int64
		for _, e := range entries {
			if e.AttentionScore < m.cfg.DeleteThreshold {
				doomed = append(doomed, e.MemoryID)
				continue
			}
			if e.AttentionScore < m.cfg.DecayFloor {
				continue
			}
			next := math.Max(m.cfg.DecayFloor, e.AttentionScore*m.cfg.DecayRate)
			if next == e.AttentionScore {
				continue
			}
			e.AttentionScore = next
			if err := rows.UpsertWorkingEntry(ctx, e); err != nil {
				return err
			}
			changed++
		}

		if len(doomed) > 0 {
			n, err := rows.DeleteWorkingEntries(ctx, sessionID, doomed...)
			if err != nil {
				return err
			}
			deleted = n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("decay session %s: %w", sessionID, err)
	}
	if deleted > 0 {
		metrics.WorkingMemoryRemovals.WithLabelValues("decayed").Add(float64(deleted))
	}
	return changed + deleted, nil
}

// BatchUpdateAll applies a decay tick to every session. A failing session is
// logged and skipped.
func (m *Manager) BatchUpdateAll(ctx context.Context) int {
	sessions := m.sessions(ctx)
	total := 0
	for _, s := range sessions {
		n, err := m.BatchUpdateScores(ctx, s)
		if err != nil {
			m.logger.Warn("decay tick failed", zap.String("session_id", s), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

// CleanupOldSessions removes, session by session, entries not focused within
// the session timeout. It returns the number of entries removed.
func (m *Manager) CleanupOldSessions(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.SessionTimeout)
	total := 0
	for _, s := range m.sessions(ctx) {
		var n int
		err := m.store.WithTx(ctx, func(rows storage.Rows) error {
			var err error
			n, err = rows.DeleteWorkingBefore(ctx, s, cutoff)
			return err
		})
		if err != nil {
			m.logger.Warn("session cleanup failed", zap.String("session_id", s), zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		metrics.WorkingMemoryRemovals.WithLabelValues("expired").Add(float64(total))
		m.logger.Info("expired idle working-memory entries", zap.Int("removed", total))
	}
	return total
}

func (m *Manager) sessions(ctx context.Context) []string {
	if m.store == nil {
		return nil
	}
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		m.logger.Warn("list sessions failed", zap.Error(err))
		return nil
	}
	return sessions
}

// Sessions lists sessions holding at least one entry.
func (m *Manager) Sessions(ctx context.Context) []string {
	s := m.sessions(ctx)
	if s == nil {
		return []string{}
	}
	return s
}

// GetSession returns a session's entries, highest score first.
func (m *Manager) GetSession(ctx context.Context, sessionID string) []*storage.WorkingEntry {
	if m.store == nil {
		return []*storage.WorkingEntry{}
	}
	entries, err := m.store.ListWorkingEntries(ctx, sessionID)
	if err != nil {
		m.logger.Warn("get session failed", zap.String("session_id", sessionID), zap.Error(err))
		return []*storage.WorkingEntry{}
	}
	if entries == nil {
		entries = []*storage.WorkingEntry{}
	}
	return entries
}

// GetEntry returns one entry, or nil when it does not exist.
func (m *Manager) GetEntry(ctx context.Context, sessionID string, memoryID int64) *storage.WorkingEntry {
	if m.store == nil {
		return nil
	}
	e, err := m.store.GetWorkingEntry(ctx, sessionID, memoryID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("get entry failed", zap.String("session_id", sessionID),
				zap.Int64("memory_id", memoryID), zap.Error(err))
		}
		return nil
	}
	return e
}

// RemoveEntry drops one entry. It reports whether the entry existed.
func (m *Manager) RemoveEntry(ctx context.Context, sessionID string, memoryID int64) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	var n int
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		var err error
		n, err = rows.DeleteWorkingEntries(ctx, sessionID, memoryID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove entry: %w", err)
	}
	return n > 0, nil
}

// ClearSession drops every entry of a session and returns how many there were.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	var n int
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		var err error
		n, err = rows.ClearSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}
	return n, nil
}

// GetSessionStats summarizes a session, or returns nil when it is empty.
func (m *Manager) GetSessionStats(ctx context.Context, sessionID string) *SessionStats {
	entries := m.GetSession(ctx, sessionID)
	if len(entries) == 0 {
		return nil
	}
	st := &SessionStats{
		SessionID:    sessionID,
		TotalEntries: len(entries),
		MinAttention: math.Inf(1),
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.AttentionScore
		st.MaxAttention = math.Max(st.MaxAttention, e.AttentionScore)
		st.MinAttention = math.Min(st.MinAttention, e.AttentionScore)
		st.TotalFocusEvents += e.FocusCount
	}
	st.AvgAttention = math.Round(sum/float64(len(entries))*100) / 100
	return st
}

// StartDecayLoop runs BatchUpdateAll and CleanupOldSessions on every decay
// interval until ctx is done or Stop is called.
func (m *Manager) StartDecayLoop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	m.logger.Info("working-memory decay loop started", zap.Duration("interval", m.cfg.DecayInterval))
	return nil
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := m.BatchUpdateAll(ctx)
			expired := m.CleanupOldSessions(ctx)
			m.logger.Debug("decay tick", zap.Int("changed", changed), zap.Int("expired", expired))
		}
	}
}

// IsRunning reports whether the decay loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Stop halts the decay loop and waits for an in-flight tick to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("working-memory decay loop stopped")
}
