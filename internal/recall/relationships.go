package recall

import (
	"math"

	"github.com/driftlane/memoryengine/internal/model"
)

// discoverRelationships computes pairwise relationships among the top-ranked
// results (spec §4.9.10): same-session episodic pairs are checked first
// (fixed strength 0.8), then content-similarity (Jaccard), temporal
// proximity, and procedural
// pattern-similarity (Levenshtein over content). Only the top maxDepth
// relationships by strength are kept per memory.
func discoverRelationships(results []UnifiedResult, maxDepth int) {
	n := len(results)
	if n < 2 {
		return
	}
	byID := make(map[string]int, n)
	for i, r := range results {
		byID[r.Memory.ID] = i
	}

	found := make([][]Relationship, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			a, b := results[i].Memory, results[j].Memory
			if rel, ok := relate(a, b); ok {
				found[i] = append(found[i], rel)
			}
		}
	}

	for i := range results {
		rels := found[i]
		sortRelationshipsDesc(rels)
		if maxDepth > 0 && len(rels) > maxDepth {
			rels = rels[:maxDepth]
		}
		results[i].Relationships = rels
	}
}

func relate(a, b *model.Memory) (Relationship, bool) {
	if a.Type == model.TypeEpisodic && b.Type == model.TypeEpisodic &&
		a.SessionID != "" && a.SessionID == b.SessionID {
		return Relationship{MemoryID: b.ID, Type: "same_session", Strength: 0.8}, true
	}

	if sim := jaccard(a.Content, b.Content); sim > 0.6 {
		return Relationship{MemoryID: b.ID, Type: "semantic_similarity", Strength: sim}, true
	}

	deltaHours := math.Abs(float64(a.CreatedAt-b.CreatedAt)) / float64(3600_000)
	if deltaHours <= 24 {
		strength := math.Max(0.3, 1-deltaHours/24)
		return Relationship{MemoryID: b.ID, Type: "temporal_proximity", Strength: strength}, true
	}

	if a.Type == model.TypeProcedural && b.Type == model.TypeProcedural {
		if sim := levenshteinSimilarity(a.Content, b.Content); sim > 0.5 {
			return Relationship{MemoryID: b.ID, Type: "pattern_similarity", Strength: sim}, true
		}
	}

	return Relationship{}, false
}

func sortRelationshipsDesc(rels []Relationship) {
	for i := 1; i < len(rels); i++ {
		for j := i; j > 0 && rels[j].Strength > rels[j-1].Strength; j-- {
			rels[j], rels[j-1] = rels[j-1], rels[j]
		}
	}
}
