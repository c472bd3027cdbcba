// Package archival moves memories that have decayed past usefulness out of
// the active set, and back again on request.
package archival

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Defaults.
const (
	DefaultBatchSize      = 50
	DefaultScanInterval   = 2 * time.Hour
	DefaultMaxAgeDays     = 90
	DefaultMaxAccessCount = 2
	DefaultMaxConfidence  = 0.4

	maxErrorLog = 100
)

// ErrScanInProgress is returned when a scan is requested while another runs.
var ErrScanInProgress = errors.New("archival: scan already in progress")

// Config tunes a Manager. The age, access and confidence limits only shape
// the reason attached to a candidate; the classifier decides eligibility.
type Config struct {
	BatchSize      int           `json:"batch_size" koanf:"batch_size"`
	ScanInterval   time.Duration `json:"scan_interval" koanf:"scan_interval"`
	MaxAgeDays     int           `json:"max_age_days" koanf:"max_age_days"`
	MaxAccessCount int           `json:"max_access_count" koanf:"max_access_count"`
	MaxConfidence  float64       `json:"max_confidence" koanf:"max_confidence"`
}

// DefaultConfig returns the standard archival configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		ScanInterval:   DefaultScanInterval,
		MaxAgeDays:     DefaultMaxAgeDays,
		MaxAccessCount: DefaultMaxAccessCount,
		MaxConfidence:  DefaultMaxConfidence,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	if c.MaxAccessCount < 0 {
		c.MaxAccessCount = d.MaxAccessCount
	}
	if c.MaxConfidence <= 0 {
		c.MaxConfidence = d.MaxConfidence
	}
	return c
}

// Indexer is the search index kept in sync with the archived flag.
type Indexer interface {
	Index(ctx context.Context, m *storage.Memory) error
	Remove(ctx context.Context, ids ...int64) error
}

// Candidate is a memory eligible for archival.
type Candidate struct {
	ID             int64                  `json:"id"`
	Title          string                 `json:"title,omitempty"`
	SpecFolder     string                 `json:"spec_folder"`
	FilePath       string                 `json:"file_path,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	ImportanceTier storage.ImportanceTier `json:"importance_tier"`
	AccessCount    int                    `json:"access_count"`
	Confidence     float64                `json:"confidence"`
	Reason         string                 `json:"reason"`
}

// Status describes one memory's archival position.
type Status struct {
	Exists         bool               `json:"exists"`
	IsArchived     bool               `json:"is_archived"`
	ShouldArchive  bool               `json:"should_archive"`
	State          intelligence.State `json:"state,omitempty"`
	Retrievability float64            `json:"retrievability"`
}

// BatchResult counts the outcome of ArchiveBatch.
type BatchResult struct {
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	Scanned  int `json:"scanned"`
	Archived int `json:"archived"`
}

// Stats accumulate over the manager's lifetime.
type Stats struct {
	TotalScanned    int        `json:"total_scanned"`
	TotalArchived   int        `json:"total_archived"`
	TotalUnarchived int        `json:"total_unarchived"`
	LastScanTime    *time.Time `json:"last_scan_time,omitempty"`
	Errors          []string   `json:"errors"`
}

// Manager archives and restores memories.
type Manager struct {
	store      storage.Store
	classifier *intelligence.Classifier
	index      Indexer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	scanning atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	jobMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndexer keeps idx in sync with archive and unarchive.
func WithIndexer(idx Indexer) Option {
	return func(m *Manager) { m.index = idx }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *intelligence.Classifier) Option {
	return func(m *Manager) {
		if c != nil {
			m.classifier = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

// NewManager creates a manager over store. A nil store yields a manager
// whose methods return safe defaults.
func NewManager(store storage.Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		classifier: intelligence.NewClassifier(intelligence.DefaultClassifierConfig()),
		cfg:        cfg.normalize(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "archival"))
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// EnsureSchema applies pending migrations. It is a no-op without a store.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Migrate(ctx)
}

// GetArchivalCandidates returns up to limit memories the classifier would
// archive now. Protected rows are never considered. Rows are examined
// never-accessed first, then least recently accessed, then by access count,
// a page of limit*3 at a time until limit candidates are found or the table
// is exhausted. A limit <= 0 uses the batch size.
func (m *Manager) GetArchivalCandidates(ctx context.Context, limit int) []Candidate {
	if m.store == nil {
		return []Candidate{}
	}
	if limit <= 0 {
		limit = m.cfg.BatchSize
	}

	now := m.now()
	cutoff := now.AddDate(0, 0, -m.cfg.MaxAgeDays)
	out := make([]Candidate, 0, limit)
	pageSize := limit * 3

	for offset := 0; len(out) < limit; {
		if ctx.Err() != nil {
			break
		}
		rows, err := m.store.ListMemories(ctx, storage.ListOptions{
			ExcludeProtected: true,
			Order:            storage.OrderLeastAccessed,
			Limit:            pageSize,
			Offset:           offset,
		})
		if err != nil {
			m.logger.Warn("list archival candidates failed", zap.Int("offset", offset), zap.Error(err))
			m.recordError(err)
			break
		}

		for _, mem := range rows {
			if !m.classifier.ShouldArchive(mem, now) {
				continue
			}
			out = append(out, Candidate{
				ID:             mem.ID,
				Title:          mem.Title,
				SpecFolder:     mem.SpecFolder,
				FilePath:       mem.FilePath,
				CreatedAt:      mem.CreatedAt,
				ImportanceTier: mem.ImportanceTier,
				AccessCount:    mem.AccessCount,
				Confidence:     mem.Confidence,
				Reason:         m.reason(mem, cutoff),
			})
			if len(out) >= limit {
				break
			}
		}
		if len(rows) < pageSize {
			break
		}
		offset += len(rows)
	}
	return out
}

func (m *Manager) reason(mem *storage.Memory, cutoff time.Time) string {
	var reasons []string
	if !mem.CreatedAt.IsZero() && mem.CreatedAt.Before(cutoff) {
		reasons = append(reasons, "aged")
	}
	if mem.AccessCount <= m.cfg.MaxAccessCount {
		reasons = append(reasons, "low-access")
	}
	if mem.Confidence <= m.cfg.MaxConfidence {
		reasons = append(reasons, "low-confidence")
	}
	if len(reasons) == 0 {
		return "candidate"
	}
	return strings.Join(reasons, ", ")
}

// CheckMemoryArchivalStatus reports whether id is archived and whether the
// classifier would archive it now.
func (m *Manager) CheckMemoryArchivalStatus(ctx context.Context, id int64) Status {
	if m.store == nil {
		return Status{}
	}
	mem, err := m.store.GetMemory(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("archival status lookup failed", zap.Int64("memory_id", id), zap.Error(err))
		}
		return Status{}
	}
	c := m.classifier.ClassifyTier(mem, m.now())
	return Status{
		Exists:         true,
		IsArchived:     mem.IsArchived,
		ShouldArchive:  m.classifier.ShouldArchive(mem, m.now()),
		State:          c.State,
		Retrievability: c.Retrievability,
	}
}

// ArchiveMemory archives id. It returns false when the memory is missing,
// already archived or protected.
func (m *Manager) ArchiveMemory(ctx context.Context, id int64) (bool, error) {
	if m.store == nil {
		return false, nil
	}

	var changed, protected bool
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		mem, err := rows.GetMemory(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if mem.IsProtected() {
			protected = true
			return nil
		}
		changed, err = rows.SetArchived(ctx, id, true, m.now())
		return err
	})
	if err != nil {
		m.recordError(err)
		m.logger.Warn("archive failed", zap.Int64("memory_id", id), zap.Error(err))
		return false, fmt.Errorf("archive memory %d: %w", id, err)
	}
	if protected {
		m.logger.Info("refusing to archive protected memory", zap.Int64("memory_id", id))
		return false, nil
	}
	if !changed {
		return false, nil
	}

	m.statsMu.Lock()
	m.stats.TotalArchived++
	m.statsMu.Unlock()
	metrics.MemoriesArchived.Inc()

	if m.index != nil {
		if err := m.index.Remove(ctx, id); err != nil {
			m.logger.Warn("index sync on archive failed", zap.Int64("memory_id", id), zap.Error(err))
		}
	}
	return true, nil
}

// UnarchiveMemory restores id. It returns false when the memory is missing
// or not archived.
func (m *Manager) UnarchiveMemory(ctx context.Context, id int64) (bool, error) {
	if m.store == nil {
		return false, nil
	}

	var changed bool
	err := m.store.WithTx(ctx, func(rows storage.Rows) error {
		var err error
		changed, err = rows.SetArchived(ctx, id, false, m.now())
		return err
	})
	if err != nil {
		m.logger.Warn("unarchive failed", zap.Int64("memory_id", id), zap.Error(err))
		return false, fmt.Errorf("unarchive memory %d: %w", id, err)
	}
	if !changed {
		return false, nil
	}

	m.statsMu.Lock()
	m.stats.TotalUnarchived++
	m.statsMu.Unlock()

	if m.index != nil {
		mem, err := m.store.GetMemory(ctx, id)
		if err == nil {
			err = m.index.Index(ctx, mem)
		}
		if err != nil {
			m.logger.Warn("index sync on unarchive failed", zap.Int64("memory_id", id), zap.Error(err))
		}
	}
	return true, nil
}

// ArchiveBatch archives each id in turn. Errors count as failures.
func (m *Manager) ArchiveBatch(ctx context.Context, ids []int64) BatchResult {
	var res BatchResult
	for _, id := range ids {
		ok, err := m.ArchiveMemory(ctx, id)
		if ok && err == nil {
			res.Archived++
		} else {
			res.Failed++
		}
	}
	return res
}

// RunArchivalScan archives one batch of candidates. Only one scan runs at a
// time; a concurrent call returns ErrScanInProgress. Cancelling ctx stops the
// scan between memories, leaving those already archived in place.
func (m *Manager) RunArchivalScan(ctx context.Context) (ScanResult, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		metrics.ArchivalScans.WithLabelValues("skipped").Inc()
		return ScanResult{}, ErrScanInProgress
	}
	defer m.scanning.Store(false)

	candidates := m.GetArchivalCandidates(ctx, m.cfg.BatchSize)
	res := ScanResult{Scanned: len(candidates)}

	var scanErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}
		if ok, _ := m.ArchiveMemory(ctx, c.ID); ok {
			res.Archived++
		}
	}
	if scanErr == nil {
		scanErr = ctx.Err()
	}

	now := m.now()
	m.statsMu.Lock()
	m.stats.TotalScanned += res.Scanned
	m.stats.LastScanTime = &now
	m.statsMu.Unlock()

	metrics.ArchivalScans.WithLabelValues(metrics.Result(scanErr)).Inc()
	m.logger.Info("archival scan complete",
		zap.Int("candidates", res.Scanned),
		zap.Int("archived", res.Archived),
		zap.Error(scanErr))
	return res, scanErr
}

func (m *Manager) recordError(err error) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Errors = append(m.stats.Errors, err.Error())
	if n := len(m.stats.Errors); n > maxErrorLog {
		m.stats.Errors = append([]string(nil), m.stats.Errors[n-maxErrorLog:]...)
	}
}

// GetStats returns a copy of the accumulated statistics.
func (m *Manager) GetStats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := m.stats
	s.Errors = append([]string{}, m.stats.Errors...)
	if m.stats.LastScanTime != nil {
		t := *m.stats.LastScanTime
		s.LastScanTime = &t
	}
	return s
}

// GetRecentErrors returns the last limit errors, 10 when limit <= 0.
func (m *Manager) GetRecentErrors(limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	errs := m.stats.Errors
	if len(errs) > limit {
		errs = errs[len(errs)-limit:]
	}
	return append([]string{}, errs...)
}

// ResetStats clears the accumulated statistics.
func (m *Manager) ResetStats() {
	m.statsMu.Lock()
	m.stats = Stats{}
	m.statsMu.Unlock()
}
