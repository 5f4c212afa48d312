// Package sources holds the citable-source model shared by every agent:
// retrieval documents, tier filtering, and the session source map.
package sources

import (
	"go.uber.org/zap"
)

// Filter applies the mode's tier policy to a candidate document set and
// annotates each survivor with its tier and display label. The result
// preserves retrieval order. Record ids are assigned later, when the
// records are appended to the session's source map.
//
// Filtering is idempotent: re-filtering the survivors of a strict pass
// under strict mode returns the same set.
func Filter(docs []Document, mode Mode, reg *Registry, logger *zap.Logger) ([]SourceRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTier := 5
	if mode == ModeStrict {
		maxTier = 2
	}

	records := make([]SourceRecord, 0, len(docs))
	for _, doc := range docs {
		tier := reg.TierOf(doc.Domain)
		if tier > maxTier {
			continue
		}
		rec := SourceRecord{
			Tier:    tier,
			Kind:    OriginDocument,
			Locator: doc.URL,
			Label:   reg.Label(tier),
			Title:   doc.Title,
			Snippet: doc.Snippet,
			Domain:  doc.Domain,
		}
		if mode == ModeMonitor {
			rec.ComparisonGroup = comparisonGroup(tier)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		logger.Warn("Source filtering left no candidates",
			zap.String("mode", string(mode)),
			zap.Int("candidates", len(docs)))
		return nil, &NoValidSourcesError{Mode: mode, Candidate: len(docs)}
	}

	logger.Debug("Source filtering complete",
		zap.String("mode", string(mode)),
		zap.Int("candidates", len(docs)),
		zap.Int("kept", len(records)))
	return records, nil
}

func comparisonGroup(tier int) string {
	if tier <= 2 {
		return GroupAuthoritative
	}
	return GroupGrassroots
}
