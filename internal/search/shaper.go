package search

import (
	"sort"

	"torrentstream/qbtcontrol/internal/domain"
)

// Shape filters results by size ceiling, ranks them by seeders (stable on
// ties) and keeps the top entries. SearchID and Pattern are left for the
// caller to fill.
func Shape(results []domain.TorrentResult, maxSizeBytes int64) domain.ResultEnvelope {
	return shapeTop(results, maxSizeBytes, domain.DefaultTopResults)
}

func shapeTop(results []domain.TorrentResult, maxSizeBytes int64, topN int) domain.ResultEnvelope {
	filtered := make([]domain.TorrentResult, 0, len(results))
	for _, result := range results {
		if result.FileSize() <= maxSizeBytes {
			filtered = append(filtered, result)
		}
	}

	ranked := make([]domain.TorrentResult, len(filtered))
	copy(ranked, filtered)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Seeders() > ranked[j].Seeders()
	})
	if topN >= 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	return domain.ResultEnvelope{
		TotalResults:    len(results),
		FilteredResults: len(filtered),
		Results:         ranked,
	}
}
