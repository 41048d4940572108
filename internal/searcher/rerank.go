package searcher

import (
	"math"
	"sort"

	"github.com/dshills/nexus/internal/embedder"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

// scoredHit is a candidate with its final score and components
type scoredHit struct {
	hit      storage.Hit
	score    float64
	keyword  float64
	semantic float64
}

// sortScored orders by score descending, ties by ascending chunk id
func sortScored(hits []scoredHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].hit.ChunkID < hits[j].hit.ChunkID
	})
}

// page returns hits[offset:offset+limit], clamped
func page(hits []scoredHit, offset, limit int) []scoredHit {
	if offset >= len(hits) {
		return nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}

// toResults converts ranked hits; ranks continue from offset
func toResults(hits []scoredHit, offset int) []types.SearchResult {
	results := make([]types.SearchResult, len(hits))
	for i, sh := range hits {
		results[i] = types.SearchResult{
			ChunkID:       sh.hit.ChunkID,
			Rank:          offset + i + 1,
			Score:         sh.score,
			KeywordScore:  sh.keyword,
			SemanticScore: sh.semantic,
			File: &types.FileInfo{
				Path:      sh.hit.Path,
				Language:  sh.hit.Language,
				StartLine: sh.hit.StartLine,
				EndLine:   sh.hit.EndLine,
			},
			Symbol:  sh.hit.Symbol,
			Kind:    sh.hit.Kind,
			Content: sh.hit.Content,
		}
	}
	return results
}

// normalizeWeights scales w to sum to 1, falling back to def when w is
// unusable
func normalizeWeights(w, def Weights) Weights {
	if w.Semantic < 0 || w.Keyword < 0 || w.Semantic+w.Keyword == 0 {
		w = def
	}
	sum := w.Semantic + w.Keyword
	return Weights{Semantic: w.Semantic / sum, Keyword: w.Keyword / sum}
}

// minMax maps scores into [0,1] within their own set. When every score is
// equal, every score maps to 1.
func minMax(hits []storage.Hit) map[int64]float64 {
	out := make(map[int64]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}
	for _, h := range hits {
		if hi == lo {
			out[h.ChunkID] = 1
			continue
		}
		out[h.ChunkID] = (h.Score - lo) / (hi - lo)
	}
	return out
}

// fuse blends normalized semantic and keyword scores. A chunk found by one
// leg only gets 0 for the other.
func fuse(semantic, keyword []storage.Hit, w Weights) []scoredHit {
	semNorm := minMax(semantic)
	kwNorm := minMax(keyword)

	byID := make(map[int64]storage.Hit, len(semantic)+len(keyword))
	for _, h := range keyword {
		byID[h.ChunkID] = h
	}
	for _, h := range semantic {
		byID[h.ChunkID] = h
	}

	out := make([]scoredHit, 0, len(byID))
	for id, h := range byID {
		sem, kw := semNorm[id], kwNorm[id]
		out = append(out, scoredHit{
			hit:      h,
			score:    clamp01(w.Semantic*sem + w.Keyword*kw),
			keyword:  kw,
			semantic: sem,
		})
	}
	return out
}

// rerank scores keyword candidates by the cosine between TF-IDF vectors of
// the query and each candidate, with document frequencies taken from the
// candidates alone, blended with the normalized keyword score
func rerank(query string, hits []storage.Hit, w Weights) []scoredHit {
	if len(hits) == 0 {
		return nil
	}

	docs := make([]map[string]float64, len(hits))
	df := make(map[string]int)
	for i, h := range hits {
		docs[i] = termFrequencies(h.Content + " " + h.Symbol)
		for term := range docs[i] {
			df[term]++
		}
	}

	n := float64(len(hits))
	idf := func(term string) float64 {
		return math.Log((n+1)/(float64(df[term])+1)) + 1
	}

	queryVec := termFrequencies(query)
	for term, tf := range queryVec {
		queryVec[term] = tf * idf(term)
	}

	kwNorm := minMax(hits)
	out := make([]scoredHit, len(hits))
	for i, h := range hits {
		docVec := docs[i]
		for term, tf := range docVec {
			docVec[term] = tf * idf(term)
		}
		sim := cosine(queryVec, docVec)
		kw := kwNorm[h.ChunkID]
		out[i] = scoredHit{
			hit:      h,
			score:    clamp01(w.Semantic*sim + w.Keyword*kw),
			keyword:  kw,
			semantic: sim,
		}
	}
	return out
}

// termFrequencies counts the terms of text
func termFrequencies(text string) map[string]float64 {
	tf := make(map[string]float64)
	for _, term := range embedder.Terms(text) {
		tf[term]++
	}
	return tf
}

// cosine returns the cosine similarity of two sparse vectors
func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, x := range a {
		normA += x * x
		if y, ok := b[term]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
