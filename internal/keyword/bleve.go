package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/tabwise/internal/models"
)

const (
	fieldTitle    = "title"
	fieldURLTerms = "url_terms"
	deletePage    = 500
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path gives an in-memory
// index. If you change the index mapping in code, remove the index directory; the engine
// rebuilds it from the store on startup.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so partial URL words match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldTitle, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldURLTerms, textFieldMapping)
	im.AddDocumentMapping("observation", docMapping)
	im.DefaultType = "observation"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toDoc(obs *models.Observation) map[string]interface{} {
	return map[string]interface{}{
		fieldTitle:    obs.Title,
		fieldURLTerms: URLTerms(obs.URL),
	}
}

// URLTerms splits a URL into space-separated words, dropping the scheme and "www".
func URLTerms(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	words := strings.FieldsFunc(url, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if strings.EqualFold(w, "www") {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// Index indexes an observation's title and URL words.
func (b *BleveIndex) Index(ctx context.Context, obs *models.Observation) error {
	return b.index.Index(docID(obs.ID), toDoc(obs))
}

// IndexBatch indexes many observations in one Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, obs []*models.Observation) error {
	batch := b.index.NewBatch()
	for _, o := range obs {
		if err := batch.Index(docID(o.ID), toDoc(o)); err != nil {
			return fmt.Errorf("batch index %d: %w", o.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query and returns up to limit results.
// With no boost a single match over title and URL words is used. When opts.TitleBoost > 1,
// title and URL queries run separately and their scores are added with the title score boosted.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	if limit <= 0 {
		return nil, nil
	}

	if titleBoost <= 1.0 {
		var q blevequery.Query
		if fuzzyEnabled {
			q = buildFuzzyQuery(query, fuzziness, "")
		} else {
			q = bleve.NewMatchQuery(query)
		}
		hits, err := b.search(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*KeywordResult, 0, len(hits.scores))
		for id, score := range hits.scores {
			out = append(out, &KeywordResult{ID: id, Score: score})
		}
		return sortAndTrim(out, limit), nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	fieldQuery := func(field string) blevequery.Query {
		if fuzzyEnabled {
			return buildFuzzyQuery(query, fuzziness, field)
		}
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	titleHits, err := b.search(ctx, fieldQuery(fieldTitle), reqSize)
	if err != nil {
		return nil, err
	}
	urlHits, err := b.search(ctx, fieldQuery(fieldURLTerms), reqSize)
	if err != nil {
		return nil, err
	}

	scores := make(map[int64]float64, len(titleHits.scores)+len(urlHits.scores))
	for id, s := range titleHits.scores {
		scores[id] += s * titleBoost
	}
	for id, s := range urlHits.scores {
		scores[id] += s
	}
	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{ID: id, Score: s})
	}
	return sortAndTrim(out, limit), nil
}

type hitSet struct {
	scores map[int64]float64
}

func (b *BleveIndex) search(ctx context.Context, q blevequery.Query, size int) (*hitSet, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hs := &hitSet{scores: make(map[int64]float64, len(results.Hits))}
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hs.scores[id] = hit.Score
	}
	return hs, nil
}

// sortAndTrim orders by score desc, ties by id asc, and keeps at most limit.
func sortAndTrim(out []*KeywordResult, limit int) []*KeywordResult {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query.
// If field is empty, searches all fields; otherwise restricts to the specified field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes an observation from the index.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// DeleteAll removes every document, a page at a time.
func (b *BleveIndex) DeleteAll(ctx context.Context) error {
	for {
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = deletePage
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve list failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch delete failed: %w", err)
		}
	}
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
