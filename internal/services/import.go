package services

import (
	"context"

	"github.com/stitts-dev/xc-results/internal/importer"
)

// ImportService runs imports and keeps metrics and caches in step with them.
type ImportService struct {
	importer *importer.Importer
	dir      string
	cache    *CacheService
}

func NewImportService(imp *importer.Importer, dir string, cache *CacheService) *ImportService {
	return &ImportService{importer: imp, dir: dir, cache: cache}
}

// ImportPrefix imports the seven CSV files named by prefix from the import
// directory.
func (s *ImportService) ImportPrefix(ctx context.Context, prefix string) (*importer.Summary, error) {
	summary, err := s.importer.ImportFiles(ctx, s.dir, prefix)
	if err != nil {
		return nil, err
	}
	s.afterImport(ctx, summary)
	return summary, nil
}

// ImportBundle imports records assembled by a provider.
func (s *ImportService) ImportBundle(ctx context.Context, bundle *importer.Bundle, source string) (*importer.Summary, error) {
	summary, err := s.importer.Import(ctx, bundle, source)
	if err != nil {
		return nil, err
	}
	s.afterImport(ctx, summary)
	return summary, nil
}

func (s *ImportService) afterImport(ctx context.Context, summary *importer.Summary) {
	for entity, counts := range summary.Counts {
		importRowsTotal.WithLabelValues(entity, "imported").Add(float64(counts.Imported))
		importRowsTotal.WithLabelValues(entity, "skipped").Add(float64(counts.Skipped))
	}
	importDuration.Observe(summary.Duration.Seconds())
	s.cache.InvalidateResults(ctx)
}
