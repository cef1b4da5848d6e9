// Package cluster implements the multi-pass record-linkage engine: a
// disjoint-set over staging-record ordinals, merged by shared signals in
// strictly descending strength order, under a configurable cluster-size cap.
package cluster

import (
	"fmt"

	"unify/internal/resolve/models"
	"unify/internal/resolve/normalize"
	"unify/internal/resolve/signal"
)

// DefaultSizeCap is the default maximum cluster size. The correct value is
// corpus-dependent; expose it through config, never hardcode call sites.
const DefaultSizeCap = 20

// maxNameZipGroup is the largest name+zip candidate group eligible to merge.
// Larger groups are common surnames in dense zips, presumed coincidental.
const maxNameZipGroup = 5

// Binding records how one staging record was attached to its cluster.
type Binding struct {
	Method     models.MatchMethod
	Confidence float64
}

// Result is the outcome of the clustering pass.
type Result struct {
	// Clusters holds member ordinals per cluster, members in input order,
	// clusters ordered by their first-encountered member.
	Clusters [][]int
	// Bindings is indexed by record ordinal and records the pass that
	// bound each record. The weakest binding in a cluster sets the
	// person-level confidence.
	Bindings []Binding
	// LinkConfidences is indexed by record ordinal: the crosswalk
	// confidence, which is the stronger of the record's own binding and
	// the strongest signal that formed its cluster. A record pulled into
	// an email-formed cluster by phone links at the email confidence;
	// the dominating pass justified the cluster.
	LinkConfidences []float64
	// MergesByMethod counts successful unions per signal pass.
	MergesByMethod map[models.MatchMethod]int
	// CappedMerges counts unions refused by the size cap.
	CappedMerges int
}

// ClusterConfidence returns the person-level confidence for a cluster: the
// weakest signal used to attach any member.
func (r *Result) ClusterConfidence(members []int) float64 {
	conf := 1.0
	for _, ordinal := range members {
		if c := r.Bindings[ordinal].Confidence; c < conf {
			conf = c
		}
	}
	return conf
}

// CappedKeyFunc is invoked when a signal key is refused by the size cap, so
// the service can surface the offending identifier for cap tuning.
type CappedKeyFunc func(method models.MatchMethod, key string)

// Engine runs the pass sequence over one snapshot's indexes.
type Engine struct {
	sizeCap  int
	onCapped CappedKeyFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithSizeCap overrides the maximum cluster size.
func WithSizeCap(n int) Option {
	return func(e *Engine) { e.sizeCap = n }
}

// WithCappedKeyFunc registers a callback for cap-refused signal keys.
func WithCappedKeyFunc(fn CappedKeyFunc) Option {
	return func(e *Engine) { e.onCapped = fn }
}

// New constructs an Engine. A cap below one is a configuration error: it
// would silently change output cardinality, so it fails loudly instead.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{sizeCap: DefaultSizeCap}
	for _, opt := range opts {
		opt(e)
	}
	if e.sizeCap < 1 {
		return nil, fmt.Errorf("cluster size cap must be at least 1, got %d", e.sizeCap)
	}
	return e, nil
}

// Run executes the five passes in strength order. Each pass only binds
// records not yet resolved by a stronger signal. A weaker signal may pull
// an unresolved record into an existing stronger cluster (cap permitting),
// but it never re-binds a resolved record and never bridges two clusters
// that stronger passes already separated.
func (e *Engine) Run(records []models.StagingRecord, ixs *signal.Indexes) *Result {
	n := len(records)
	uf := newUnionFind(n, e.sizeCap)
	res := &Result{
		Bindings:        make([]Binding, n),
		LinkConfidences: make([]float64, n),
		MergesByMethod:  make(map[models.MatchMethod]int),
	}
	bound := make([]bool, n)
	// dominant tracks, per component root, the strongest pass confidence
	// that performed a union inside that component.
	dominant := make([]float64, n)

	bind := func(ordinal int, method models.MatchMethod, conf float64) {
		if !bound[ordinal] {
			bound[ordinal] = true
			res.Bindings[ordinal] = Binding{Method: method, Confidence: conf}
		}
	}

	unionWith := func(a, b int, conf float64) bool {
		da, db := dominant[uf.find(a)], dominant[uf.find(b)]
		if !uf.union(a, b) {
			return false
		}
		root := uf.find(a)
		dominant[root] = maxConf(maxConf(da, db), conf)
		return true
	}

	// runPass merges each signal group into one component. The anchor is
	// the first already-resolved member when one exists (the group joins
	// that cluster) and the first member otherwise. Already-resolved
	// non-anchor members are left alone: their cluster assignment was
	// decided by a stronger signal.
	runPass := func(ix *signal.Index, method models.MatchMethod, conf float64, eligible func(key string, group []int) bool) {
		for _, key := range ix.Keys() {
			group := ix.Records(key)
			if len(group) < 2 {
				continue
			}
			if eligible != nil && !eligible(key, group) {
				continue
			}
			anchor := group[0]
			for _, ordinal := range group {
				if bound[ordinal] {
					anchor = ordinal
					break
				}
			}
			merged := false
			for _, other := range group {
				if other == anchor || bound[other] {
					continue
				}
				if uf.find(anchor) == uf.find(other) {
					bind(other, method, conf)
					continue
				}
				if !unionWith(anchor, other, conf) {
					res.CappedMerges++
					if e.onCapped != nil {
						e.onCapped(method, key)
					}
					continue
				}
				res.MergesByMethod[method]++
				merged = true
				bind(other, method, conf)
			}
			if merged {
				bind(anchor, method, conf)
			}
		}
	}

	runPass(ixs.CrossRef, models.MatchCrossRef, models.ConfidenceCrossRef, nil)
	runPass(ixs.Email, models.MatchEmail, models.ConfidenceEmail, nil)
	runPass(ixs.Phone, models.MatchPhone, models.ConfidencePhone, nil)
	runPass(ixs.NameZip, models.MatchNameZip, models.ConfidenceNameZip, func(_ string, group []int) bool {
		return len(group) <= maxNameZipGroup && firstNamesAgree(records, group)
	})

	// Singleton pass: anything still unresolved is its own cluster.
	for ordinal := 0; ordinal < n; ordinal++ {
		bind(ordinal, models.MatchSingleton, models.ConfidenceSingleton)
	}

	for ordinal := 0; ordinal < n; ordinal++ {
		res.LinkConfidences[ordinal] = maxConf(
			res.Bindings[ordinal].Confidence,
			dominant[uf.find(ordinal)],
		)
	}

	res.Clusters = collectClusters(uf, n)
	return res
}

// firstNamesAgree checks the name+zip safeguard: every pair in the group
// must share the first three characters of first name.
func firstNamesAgree(records []models.StagingRecord, group []int) bool {
	var prefix string
	for i, ordinal := range group {
		p := normalize.FirstNamePrefix(records[ordinal].FirstName)
		if p == "" {
			return false
		}
		if i == 0 {
			prefix = p
			continue
		}
		if p != prefix {
			return false
		}
	}
	return true
}

// collectClusters materializes final components, ordered by the lowest
// ordinal they contain, members in input order.
func collectClusters(uf *unionFind, n int) [][]int {
	byRoot := make(map[int]int)
	var clusters [][]int
	for ordinal := 0; ordinal < n; ordinal++ {
		root := uf.find(ordinal)
		idx, ok := byRoot[root]
		if !ok {
			idx = len(clusters)
			byRoot[root] = idx
			clusters = append(clusters, nil)
		}
		clusters[idx] = append(clusters[idx], ordinal)
	}
	return clusters
}

func maxConf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
