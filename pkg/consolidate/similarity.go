package consolidate

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

// Scorer computes a combined name/semantic similarity score for a pair
// of entity names. Scoring is a pure function of its inputs; the only
// shared state is a read-mostly result cache.
type Scorer struct {
	cfg     Config
	metrics *Metrics

	cacheLock sync.RWMutex
	cache     map[string]float64
}

// NewScorer creates a Scorer. The metrics collector observes similarity
// calls and cache hits; it never influences scores.
func NewScorer(cfg Config, metrics *Metrics) *Scorer {
	return &Scorer{
		cfg:     cfg.normalize(),
		metrics: metrics,
		cache:   make(map[string]float64),
	}
}

// Score combines normalized-name similarity with semantic similarity
// from precomputed embedding vectors, weighted per entity type.
//
// When the name score alone reaches the skip-semantic threshold the
// semantic component is skipped entirely and the name score is returned
// directly (fuzzy-first filtering). When either embedding is missing the
// name score is also returned directly (degraded mode upstream).
func (s *Scorer) Score(nameA, nameB string, embA, embB []float32, entityType common.EntityType) float64 {
	spec := s.cfg.SpecFor(entityType)

	normA := NormalizeName(nameA, spec.Synonyms)
	normB := NormalizeName(nameB, spec.Synonyms)
	if normA == "" || normB == "" {
		return 0
	}

	key := cacheKey(normA, normB, entityType)
	s.cacheLock.RLock()
	cached, ok := s.cache[key]
	s.cacheLock.RUnlock()
	if ok {
		if s.metrics != nil {
			s.metrics.SimilarityCacheHit()
		}
		return cached
	}
	if s.metrics != nil {
		s.metrics.SimilarityCall()
	}

	nameScore := nameSimilarity(normA, normB)

	score := nameScore
	if nameScore < s.cfg.SkipSemanticThreshold && len(embA) > 0 && len(embB) > 0 {
		semantic := CosineSimilarity(embA, embB)
		score = spec.NameWeight*nameScore + spec.SemanticWeight*semantic
	}
	score = clamp(score, 0, 1)

	s.cacheLock.Lock()
	s.cache[key] = score
	s.cacheLock.Unlock()

	return score
}

// NameScore returns the pure name-similarity component. Used by the
// duplicate detector for fuzzy-first pre-filtering and by pattern
// grouping, where no embeddings are involved.
func (s *Scorer) NameScore(nameA, nameB string, entityType common.EntityType) float64 {
	spec := s.cfg.SpecFor(entityType)
	return nameSimilarity(NormalizeName(nameA, spec.Synonyms), NormalizeName(nameB, spec.Synonyms))
}

func cacheKey(normA, normB string, entityType common.EntityType) string {
	// Order-independent: Score(a,b) == Score(b,a).
	if normB < normA {
		normA, normB = normB, normA
	}
	return normA + "|" + normB + "|" + string(entityType)
}

// NormalizeName lowercases, strips punctuation, collapses whitespace and
// expands per-type value synonyms token by token.
func NormalizeName(name string, synonyms map[string]string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			// punctuation becomes a separator, not nothing, so
			// "excel/word" stays two tokens
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		if replacement, ok := synonyms[f]; ok {
			fields[i] = replacement
		}
	}
	return strings.Join(fields, " ")
}

// nameSimilarity is an edit-distance-normalized ratio in [0,1] over
// already-normalized names. Identical strings score 1; strings with no
// shared structure approach 0. Token containment ("excel" vs
// "microsoft excel") is scored by the best token-window alignment so
// vendor prefixes and suffixes do not drown the match.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	direct := editRatio(a, b)

	// best alignment of the shorter name against same-length token
	// windows of the longer one
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	shortTokens := strings.Fields(short)
	longTokens := strings.Fields(long)
	best := direct
	if len(shortTokens) < len(longTokens) {
		for i := 0; i+len(shortTokens) <= len(longTokens); i++ {
			window := strings.Join(longTokens[i:i+len(shortTokens)], " ")
			if r := editRatio(short, window); r > best {
				best = r
			}
		}
		// containment still carries a penalty for the unmatched tokens,
		// mild enough that a clean vendor prefix or suffix ("Excel" vs
		// "Microsoft Excel") stays above the strictest type threshold
		coverage := float64(len(shortTokens)) / float64(len(longTokens))
		best = best * (0.83 + 0.17*coverage)
	}

	return math.Max(direct, best)
}

func editRatio(a, b string) float64 {
	dist := levenshtein(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [0,1]. Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp(dot/(math.Sqrt(normA)*math.Sqrt(normB)), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
