package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"asset-indexer/internal/metrics"
)

// Boosts of the relevance clauses.
const (
	boostName         = 10
	boostBaseName     = 8
	boostNameTokens   = 5
	boostBaseTokens   = 3
	boostNameFuzzy    = 0.5
	boostTokenPartial = 0.1
)

// Tri is a tri-state structural constraint.
type Tri int

// Tri-state values. Ignore is the zero value.
const (
	Ignore Tri = iota
	RequireTrue
	RequireFalse
)

// ParseTri accepts "true", "false" and "" (ignore).
func ParseTri(s string) (Tri, error) {
	switch strings.ToLower(s) {
	case "", "ignore", "any":
		return Ignore, nil
	case "true", "1", "yes":
		return RequireTrue, nil
	case "false", "0", "no":
		return RequireFalse, nil
	default:
		return Ignore, fmt.Errorf("invalid tri-state %q", s)
	}
}

// Constraints are structural filters ANDed onto the relevance query.
type Constraints struct {
	Directory Tri
	Hidden    Tri
	Link      Tri
	Special   Tri

	ModifiedFrom *time.Time
	ModifiedTo   *time.Time
	MinLength    *int64
	MaxLength    *int64

	// Storages restricts hits to these storages when not empty.
	Storages []string

	// ParentPathPrefix and ParentHashPath match either way when both are set.
	ParentPathPrefix string
	ParentHashPath   string
}

// Result is one search hit.
type Result struct {
	HashPath   string  `json:"hashPath"`
	Storage    string  `json:"storage"`
	Name       string  `json:"name"`
	ParentPath string  `json:"parentPath"`
	Score      float64 `json:"score"`
	Explain    string  `json:"explain,omitempty"`
}

// Results is the answer to a search.
type Results struct {
	Results      []Result `json:"results"`
	TotalMatched uint64   `json:"totalMatched"`
}

// Search runs queryText against the index of realm and returns the best
// limit hits by descending score. Ties keep the engine order. An empty
// query matches every document that satisfies the constraints.
func (r *Registry) Search(realm, queryText string, c *Constraints, limit int) (Results, error) {
	start := time.Now()
	ri, err := r.get(realm)
	if err != nil {
		return Results{}, err
	}
	if limit <= 0 {
		limit = 10
	}

	q := BuildQuery(queryText, c)
	req := bleve.NewSearchRequestOptions(q, limit, 0, r.opts.Explain)
	req.Fields = storedFields

	res, err := ri.index.Search(req)
	metrics.SearchDuration.WithLabelValues(realm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues(realm, "error").Inc()
		return Results{}, fmt.Errorf("search %s: %w", realm, err)
	}
	metrics.SearchQueriesTotal.WithLabelValues(realm, "success").Inc()

	out := Results{Results: make([]Result, 0, len(res.Hits)), TotalMatched: res.Total}
	for _, hit := range res.Hits {
		item := Result{
			HashPath:   hit.ID,
			Storage:    fieldString(hit.Fields, FieldStorage),
			Name:       fieldString(hit.Fields, FieldName),
			ParentPath: fieldString(hit.Fields, FieldParentPath),
			Score:      hit.Score,
		}
		if r.opts.Explain && hit.Expl != nil {
			item.Explain = hit.Expl.String()
		}
		out.Results = append(out.Results, item)
	}
	return out, nil
}

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// BuildQuery composes the relevance clauses of queryText with the filters
// of c. Relevance clauses are alternatives whose scores add up; filters are
// all required.
func BuildQuery(queryText string, c *Constraints) query.Query {
	var relevance query.Query
	if strings.TrimSpace(queryText) == "" {
		relevance = bleve.NewMatchAllQuery()
	} else {
		relevance = relevanceQuery(queryText)
	}

	filters := filterQueries(c)
	if len(filters) == 0 {
		return relevance
	}

	q := bleve.NewBooleanQuery()
	q.AddMust(relevance)
	q.AddMust(filters...)
	return q
}

func relevanceQuery(q string) query.Query {
	var should []query.Query

	if strings.ContainsAny(q, "*?") {
		should = append(should,
			wildcard(FieldName, q, boostName),
			wildcard(FieldBaseName, strings.ToLower(q), boostBaseName))
	} else {
		should = append(should,
			term(FieldName, q, boostName),
			term(FieldBaseName, strings.ToLower(q), boostBaseName))
	}

	fz := bleve.NewFuzzyQuery(q)
	fz.SetField(FieldName)
	fz.SetFuzziness(2)
	fz.SetBoost(boostNameFuzzy)
	should = append(should, fz)

	if tokens := Normalize(q); len(tokens) > 0 {
		should = append(should,
			allTerms(FieldName, tokens, boostNameTokens),
			allTerms(FieldBaseName, tokens, boostBaseTokens))

		partial := make([]query.Query, 0, len(tokens))
		for _, tok := range tokens {
			tf := bleve.NewFuzzyQuery(tok)
			tf.SetField(FieldBaseName)
			tf.SetFuzziness(fuzzinessFor(tok))
			partial = append(partial, bleve.NewDisjunctionQuery(tf, wildcard(FieldBaseName, "*"+tok+"*", 1)))
		}
		pc := bleve.NewConjunctionQuery(partial...)
		pc.SetBoost(boostTokenPartial)
		should = append(should, pc)
	}

	d := bleve.NewDisjunctionQuery(should...)
	d.SetMin(1)
	return d
}

// fuzzinessFor keeps very short tokens from matching everything.
func fuzzinessFor(tok string) int {
	switch {
	case len(tok) <= 2:
		return 0
	case len(tok) <= 5:
		return 1
	default:
		return 2
	}
}

func term(field, value string, boost float64) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

func wildcard(field, pattern string, boost float64) query.Query {
	q := bleve.NewWildcardQuery(pattern)
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

func allTerms(field string, tokens []string, boost float64) query.Query {
	terms := make([]query.Query, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, term(field, tok, 1))
	}
	q := bleve.NewConjunctionQuery(terms...)
	q.SetBoost(boost)
	return q
}

func boolFilter(field string, t Tri) query.Query {
	if t == Ignore {
		return nil
	}
	q := bleve.NewBoolFieldQuery(t == RequireTrue)
	q.SetField(field)
	return q
}

func numericRange(field string, lo, hi *float64) query.Query {
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(lo, hi, &inclusive, &inclusive)
	q.SetField(field)
	return q
}

func filterQueries(c *Constraints) []query.Query {
	if c == nil {
		return nil
	}

	var out []query.Query
	for _, f := range []struct {
		field string
		tri   Tri
	}{
		{FieldDirectory, c.Directory},
		{FieldHidden, c.Hidden},
		{FieldLink, c.Link},
		{FieldSpecial, c.Special},
	} {
		if q := boolFilter(f.field, f.tri); q != nil {
			out = append(out, q)
		}
	}

	if c.ModifiedFrom != nil || c.ModifiedTo != nil {
		var lo, hi *float64
		if c.ModifiedFrom != nil {
			v := float64(c.ModifiedFrom.UnixMilli())
			lo = &v
		}
		if c.ModifiedTo != nil {
			v := float64(c.ModifiedTo.UnixMilli())
			hi = &v
		}
		out = append(out, numericRange(FieldModifiedAt, lo, hi))
	}

	if c.MinLength != nil || c.MaxLength != nil {
		var lo, hi *float64
		if c.MinLength != nil {
			v := float64(*c.MinLength)
			lo = &v
		}
		if c.MaxLength != nil {
			v := float64(*c.MaxLength)
			hi = &v
		}
		out = append(out, numericRange(FieldLength, lo, hi))
	}

	if len(c.Storages) > 0 {
		storages := make([]query.Query, 0, len(c.Storages))
		for _, s := range c.Storages {
			storages = append(storages, term(FieldStorage, s, 1))
		}
		d := bleve.NewDisjunctionQuery(storages...)
		d.SetMin(1)
		out = append(out, d)
	}

	var parent []query.Query
	if c.ParentPathPrefix != "" {
		p := bleve.NewPrefixQuery(c.ParentPathPrefix)
		p.SetField(FieldParentPath)
		parent = append(parent, p)
	}
	if c.ParentHashPath != "" {
		parent = append(parent, term(FieldParentHashPath, c.ParentHashPath, 1))
	}
	if len(parent) > 0 {
		d := bleve.NewDisjunctionQuery(parent...)
		d.SetMin(1)
		out = append(out, d)
	}

	return out
}
