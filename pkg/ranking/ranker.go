package ranking

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/logging"
)

// DefaultAuthorityWeight scales normalized PageRank into the final score.
const DefaultAuthorityWeight = 0.05

// Config tunes a Ranker.
type Config struct {
	Weights         Weights         `json:"weights" koanf:"weights"`
	AuthorityWeight float64         `json:"authority_weight" koanf:"authority_weight"`
	PageRank        PageRankOptions `json:"pagerank" koanf:"pagerank"`

	CoActivation    bool `json:"co_activation" koanf:"co_activation"`
	MaxHops         int  `json:"max_hops" koanf:"max_hops"`
	SuggestionLimit int  `json:"suggestion_limit" koanf:"suggestion_limit"`
}

// DefaultConfig returns the standard ranking configuration.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		AuthorityWeight: DefaultAuthorityWeight,
		CoActivation:    true,
		MaxHops:         DefaultMaxHops,
		SuggestionLimit: DefaultSpreadLimit,
	}
}

// Result is the output of Ranker.Rank.
type Result struct {
	Results []Scored `json:"results"`

	// Related are memories reachable from the results through relation
	// edges that were not themselves returned.
	Related  []Activation   `json:"related"`
	PageRank PageRankResult `json:"pagerank"`
}

// Ranker combines composite scoring, graph authority and co-activation.
type Ranker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRanker creates a ranker. A nil logger is replaced by a no-op logger.
func NewRanker(cfg Config, logger *zap.Logger) *Ranker {
	return &Ranker{cfg: cfg, logger: logging.OrNop(logger), now: time.Now}
}

// Rank scores rows. graph is the relation graph used for PageRank and
// suggestions; when nil the graph is built from the rows themselves.
func (r *Ranker) Rank(rows []Row, graph []Node) Result {
	now := r.now()
	scored := ApplyCompositeScoring(rows, r.cfg.Weights, now)
	if len(scored) == 0 {
		return Result{Results: scored, Related: []Activation{}, PageRank: ComputePageRank(nil, r.cfg.PageRank)}
	}

	if graph == nil {
		mems := make([]Node, 0, len(scored))
		for _, s := range scored {
			mems = append(mems, Node{ID: s.Memory.ID, Edges: s.Memory.RelatedMemories})
		}
		graph = mems
	}

	pr := ComputePageRank(graph, r.cfg.PageRank)
	authority := NormalizeScores(pr.Scores)

	inResults := make(map[int64]float64, len(scored))
	for _, s := range scored {
		inResults[s.Memory.ID] = s.Similarity
	}

	for i := range scored {
		s := &scored[i]
		s.Authority = r.cfg.AuthorityWeight * authority[s.Memory.ID]
		base := s.Composite + s.Authority

		if r.cfg.CoActivation {
			count, simSum := 0, 0.0
			seen := make(map[int64]bool, len(s.Memory.RelatedMemories))
			for _, rel := range s.Memory.RelatedMemories {
				sim, ok := inResults[rel]
				if !ok || seen[rel] || rel == s.Memory.ID {
					continue
				}
				seen[rel] = true
				count++
				simSum += NormalizeSimilarity(sim) * 100
			}
			if count > MaxRelated {
				count = MaxRelated
			}
			if count > 0 {
				boosted := BoostScore(base, count, simSum/float64(len(seen)))
				s.CoActivation = boosted - base
				base = boosted
			}
		}
		s.Score = base
	}
	sortScored(scored)

	var related []Activation
	if r.cfg.CoActivation {
		seeds := make([]int64, 0, len(scored))
		for _, s := range scored {
			seeds = append(seeds, s.Memory.ID)
		}
		for _, a := range SpreadActivation(graph, seeds, r.cfg.MaxHops, r.cfg.SuggestionLimit) {
			if _, ok := inResults[a.ID]; !ok {
				related = append(related, a)
			}
		}
	}
	if related == nil {
		related = []Activation{}
	}

	r.logger.Debug("ranked results",
		zap.Int("results", len(scored)),
		zap.Int("related", len(related)),
		zap.Int("pagerank_iterations", pr.Iterations),
		zap.Bool("pagerank_converged", pr.Converged))

	return Result{Results: scored, Related: related, PageRank: pr}
}
