// Package resolver maps free-text queries onto the closed operation catalog.
//
// Resolution is deterministic: the catalog is evaluated in declaration order,
// scores are weighted sums with no randomness, and ties break on fewer
// missing optional parameters, then catalog order. A model-driven resolver
// can be slotted in behind the same interface later; this one is the
// pattern-matching baseline.
package resolver

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/tivvis/nlagent/internal/catalog"
)

// OperationUnknown is the operation reported when no catalog entry clears
// the ambiguity threshold.
const OperationUnknown = "unknown"

// DefaultThreshold is the minimum confidence required to dispatch.
const DefaultThreshold = 0.5

// Scoring weights. Trigger strength dominates; successful extraction of
// required parameters and context hints refine the ranking.
const (
	weightTrigger = 0.6
	weightParams  = 0.3
	weightContext = 0.1
)

// Alternative is a lower-ranked candidate kept for diagnostics.
type Alternative struct {
	Operation  string  `json:"operation"`
	Confidence float64 `json:"confidence"`
}

// Resolution pairs a query with the operation it resolved to. It is created
// per query and discarded after dispatch.
type Resolution struct {
	Operation     string            `json:"operation"`
	Kind          catalog.Kind      `json:"kind"`
	Params        map[string]string `json:"params"`
	MissingParams []string          `json:"missing_params,omitempty"`
	Confidence    float64           `json:"confidence"`
	Matched       bool              `json:"matched"`
	Alternatives  []Alternative     `json:"alternatives,omitempty"`
}

// Interface is the resolve contract. The deterministic resolver below is the
// only implementation; a probabilistic layer would satisfy the same contract.
type Interface interface {
	Resolve(query string, context map[string]interface{}) Resolution
}

// Resolver scores queries against the operation catalog.
type Resolver struct {
	catalog   *catalog.Registry
	threshold float64
	logger    *log.Logger
}

// New creates a resolver over the given catalog. A non-positive threshold
// falls back to DefaultThreshold.
func New(reg *catalog.Registry, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		catalog:   reg,
		threshold: threshold,
		logger:    log.New(log.Writer(), "[RESOLVER] ", log.LstdFlags),
	}
}

// Threshold returns the configured ambiguity threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

type candidate struct {
	def             *catalog.Definition
	order           int
	score           float64
	params          map[string]string
	missing         []string
	missingOptional int
}

// Resolve maps a query (plus optional context hints) to a Resolution.
// It never fails: unmatchable queries produce a no-match Resolution with
// the top alternatives attached.
func (r *Resolver) Resolve(query string, context map[string]interface{}) Resolution {
	norm := normalize(query)

	var cands []candidate
	for i, def := range r.catalog.List() {
		trigger := triggerStrength(def, norm)
		if trigger == 0 {
			continue // no trigger group hit, not a candidate at all
		}

		params := extractParams(def, query, norm)
		contextUsed := applyContext(def, params, context)
		applyDefaults(def, params)

		var missing []string
		required := def.RequiredParams()
		for _, name := range required {
			if params[name] == "" {
				missing = append(missing, name)
			}
		}

		paramScore := 1.0
		if len(required) > 0 {
			paramScore = float64(len(required)-len(missing)) / float64(len(required))
		}
		contextScore := 0.0
		if contextUsed {
			contextScore = 1.0
		}

		missingOptional := 0
		for _, p := range def.Params {
			if !p.Required && params[p.Name] == "" {
				missingOptional++
			}
		}

		cands = append(cands, candidate{
			def:             def,
			order:           i,
			score:           weightTrigger*trigger + weightParams*paramScore + weightContext*contextScore,
			params:          params,
			missing:         missing,
			missingOptional: missingOptional,
		})
	}

	if len(cands) == 0 {
		return Resolution{
			Operation:  OperationUnknown,
			Params:     map[string]string{},
			Confidence: 0.1,
		}
	}

	// Stable sort over catalog-ordered candidates keeps the documented
	// tie-break: score, then fewer missing optional params, then order.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].missingOptional != cands[j].missingOptional {
			return cands[i].missingOptional < cands[j].missingOptional
		}
		return cands[i].order < cands[j].order
	})

	top := cands[0]
	alts := alternatives(cands, 3)

	if top.score < r.threshold {
		r.logger.Printf("no operation cleared threshold %.2f (best %s at %.2f)",
			r.threshold, top.def.Name, top.score)
		return Resolution{
			Operation:    OperationUnknown,
			Params:       map[string]string{},
			Confidence:   top.score,
			Alternatives: alts,
		}
	}

	return Resolution{
		Operation:     top.def.Name,
		Kind:          top.def.Kind,
		Params:        top.params,
		MissingParams: top.missing,
		Confidence:    top.score,
		Matched:       true,
		Alternatives:  alts[1:],
	}
}

func alternatives(cands []candidate, n int) []Alternative {
	if len(cands) < n {
		n = len(cands)
	}
	out := make([]Alternative, 0, n)
	for _, c := range cands[:n] {
		out = append(out, Alternative{Operation: c.def.Name, Confidence: round2(c.score)})
	}
	return out
}

// triggerStrength is the fraction of the definition's trigger groups with at
// least one phrase present in the normalized query.
func triggerStrength(def *catalog.Definition, norm string) float64 {
	if len(def.Triggers) == 0 {
		return 0
	}
	matched := 0
	for _, group := range def.Triggers {
		for _, phrase := range group.Phrases {
			if containsWord(norm, phrase) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(def.Triggers))
}

// applyContext fills parameters the query did not provide from the caller's
// context map (exact name or "default_"-prefixed). Reports whether any hint
// was used.
func applyContext(def *catalog.Definition, params map[string]string, context map[string]interface{}) bool {
	if len(context) == 0 {
		return false
	}
	used := false
	for _, p := range def.Params {
		if params[p.Name] != "" {
			continue
		}
		for _, key := range []string{p.Name, "default_" + p.Name} {
			if v, ok := context[key]; ok {
				params[p.Name] = fmt.Sprintf("%v", v)
				used = true
				break
			}
		}
	}
	return used
}

func applyDefaults(def *catalog.Definition, params map[string]string) {
	for _, p := range def.Params {
		if p.Default != "" && params[p.Name] == "" {
			params[p.Name] = p.Default
		}
	}
}

// normalize lowercases and collapses whitespace. Punctuation that matters to
// entity extraction (@, quotes, digits, dashes) is preserved; extraction runs
// against the original query where case matters.
func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// containsWord reports whether phrase occurs in s on word boundaries, so
// "log" does not fire inside "catalog".
func containsWord(s, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
