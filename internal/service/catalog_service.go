package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rxflow/dispensary/internal/domain/medicine"
)

// ResolvePolicy controls how a lookup behaves for the caller. Automated
// flows (bulk prescription loading) enable AutoSelect; interactive callers
// leave it off and show the candidate list to the operator instead.
type ResolvePolicy struct {
	AutoSelect     bool
	IncludeGeneric bool
}

// Resolution carries the full ranked candidate list. AutoSelected is the
// top-ranked medicine when the policy permits auto-selection, nil otherwise.
// An empty candidate list is a normal outcome, not an error; callers offer
// a manual-search fallback.
type Resolution struct {
	Query        string               `json:"query"`
	Candidates   []medicine.Candidate `json:"candidates"`
	AutoSelected *medicine.Medicine   `json:"auto_selected,omitempty"`
}

type CatalogService struct {
	repo medicine.Repository
	log  *zap.Logger
}

func NewCatalogService(repo medicine.Repository, log *zap.Logger) *CatalogService {
	return &CatalogService{repo: repo, log: log}
}

// Resolve looks up candidates for a free-text medicine name and ranks them:
// exact name matches first, then name prefixes, then name substrings, then
// generic-name matches. Ties break on name, then id, for determinism.
func (s *CatalogService) Resolve(ctx context.Context, name string, policy ResolvePolicy) (Resolution, error) {
	query := strings.TrimSpace(name)
	if query == "" {
		return Resolution{}, &ValidationError{Fields: []string{"name must not be empty"}}
	}

	matches, err := s.repo.FindByNameSubstring(ctx, query)
	if err != nil {
		s.log.Error("catalog lookup failed", zap.String("query", query), zap.Error(err))
		return Resolution{}, fmt.Errorf("searching catalog: %w", err)
	}

	candidates := rank(query, matches, policy.IncludeGeneric)

	res := Resolution{Query: query, Candidates: candidates}
	if policy.AutoSelect && len(candidates) > 0 {
		res.AutoSelected = candidates[0].Medicine
	}
	return res, nil
}

// Session returns a resolver that memoizes lookups for repeated names.
// The cache lives only as long as the session, so one dispensing session
// can never see another session's stale results.
func (s *CatalogService) Session() *ResolverSession {
	return &ResolverSession{catalog: s, cache: make(map[string]Resolution)}
}

// ResolverSession is not safe for concurrent use; each dispensing session
// owns exactly one.
type ResolverSession struct {
	catalog *CatalogService
	cache   map[string]Resolution
}

func (rs *ResolverSession) Resolve(ctx context.Context, name string, policy ResolvePolicy) (Resolution, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if cached, ok := rs.cache[key]; ok {
		res := cached
		res.AutoSelected = nil
		if policy.AutoSelect && len(res.Candidates) > 0 {
			res.AutoSelected = res.Candidates[0].Medicine
		}
		return res, nil
	}

	res, err := rs.catalog.Resolve(ctx, name, policy)
	if err != nil {
		return Resolution{}, err
	}
	rs.cache[key] = res
	return res, nil
}

func rank(query string, matches []*medicine.Medicine, includeGeneric bool) []medicine.Candidate {
	q := strings.ToLower(query)

	var candidates []medicine.Candidate
	for _, m := range matches {
		name := strings.ToLower(m.Name)
		generic := strings.ToLower(m.GenericName)

		var kind medicine.MatchKind
		switch {
		case name == q:
			kind = medicine.MatchExact
		case strings.HasPrefix(name, q):
			kind = medicine.MatchPrefix
		case strings.Contains(name, q):
			kind = medicine.MatchSubstring
		case includeGeneric && strings.Contains(generic, q):
			kind = medicine.MatchGeneric
		default:
			continue
		}
		candidates = append(candidates, medicine.Candidate{Medicine: m, Kind: kind})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ka, kb := kindOrder(a.Kind), kindOrder(b.Kind); ka != kb {
			return ka < kb
		}
		if a.Medicine.Name != b.Medicine.Name {
			return a.Medicine.Name < b.Medicine.Name
		}
		return a.Medicine.ID.String() < b.Medicine.ID.String()
	})

	for i := range candidates {
		candidates[i].Rank = i
	}
	return candidates
}

func kindOrder(k medicine.MatchKind) int {
	switch k {
	case medicine.MatchExact:
		return 0
	case medicine.MatchPrefix:
		return 1
	case medicine.MatchSubstring:
		return 2
	default:
		return 3
	}
}
