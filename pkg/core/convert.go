package core

import (
	"strings"
	"time"

	"github.com/oceanbase/memrank-go/pkg/embedder"
	"github.com/oceanbase/memrank-go/pkg/ranking"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// newMemory builds the row Save inserts for content.
func newMemory(content string, opts *SaveOptions, now time.Time) *storage.Memory {
	m := &storage.Memory{
		SpecFolder:     opts.SpecFolder,
		FilePath:       opts.FilePath,
		Title:          opts.Title,
		Content:        content,
		ContentHash:    embedder.ContentHash(content),
		ImportanceTier: opts.Tier,
		ContextType:    opts.ContextType,
		HalfLifeDays:   opts.HalfLifeDays,
		IsPinned:       opts.Pinned,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ImportanceWeight != nil {
		m.ImportanceWeight = *opts.ImportanceWeight
	}
	if m.Title == "" {
		m.Title = deriveTitle(content)
	}
	return m
}

// deriveTitle uses the first line of content, capped at 80 runes.
func deriveTitle(content string) string {
	line := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	line = strings.TrimLeft(line, "# ")
	r := []rune(line)
	if len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return line
}

// toRows pairs loaded memories with their search similarity.
func toRows(memories []*storage.Memory, similarity map[int64]float64) []ranking.Row {
	rows := make([]ranking.Row, 0, len(memories))
	for _, m := range memories {
		rows = append(rows, ranking.Row{Memory: m, Similarity: similarity[m.ID]})
	}
	return rows
}
