// Package discovery finds the gallery resources referenced by documents,
// keeps the registry of them, and reseeds the warm queue from it.
package discovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// Seeder is the queue side of discovery.
type Seeder interface {
	Reseed(ctx context.Context, jobs []queue.Job) (int, error)
}

// Service ties a document source, the registry and the queue together.
type Service struct {
	source   Source
	registry *Registry
	queue    Seeder
	logger   zerolog.Logger
}

// NewService creates the discovery service. source may be nil when
// documents are only pushed through UpdateForDocument.
func NewService(source Source, registry *Registry, q Seeder, logger zerolog.Logger) *Service {
	return &Service{source: source, registry: registry, queue: q, logger: logger}
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry { return s.registry }

// RebuildRegistry rescans every document, replaces the registry and
// reseeds the queue.
func (s *Service) RebuildRegistry(ctx context.Context) (map[string][]string, error) {
	if s.source == nil {
		return nil, fmt.Errorf("rebuild: no document source configured")
	}
	ids, err := s.source.Documents(ctx)
	if err != nil {
		return nil, err
	}

	docs := make(map[string][]string, len(ids))
	for _, id := range ids {
		doc, err := s.source.Document(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("document", id).Msg("Skipping unreadable document")
			continue
		}
		if urls := ExtractURLs(doc.Content); len(urls) > 0 {
			docs[id] = urls
		}
	}

	if err := s.registry.ReplaceAll(ctx, docs); err != nil {
		return nil, err
	}
	s.logger.Info().Int("documents", len(ids)).Int("referencing", len(docs)).Msg("Registry rebuilt")

	if _, err := s.Reseed(ctx, false); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateForDocument records the URLs of one document and reseeds the queue.
func (s *Service) UpdateForDocument(ctx context.Context, doc string, urls []string) error {
	if err := s.registry.Replace(ctx, doc, urls); err != nil {
		return err
	}
	_, err := s.Reseed(ctx, false)
	return err
}

// ScanDocument extracts the links of one document from the source and
// records them.
func (s *Service) ScanDocument(ctx context.Context, id string) ([]string, error) {
	if s.source == nil {
		return nil, fmt.Errorf("scan %s: no document source configured", id)
	}
	doc, err := s.source.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	urls := ExtractURLs(doc.Content)
	if err := s.UpdateForDocument(ctx, id, urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// Jobs turns the registry into one job per resource. collectionsOnly keeps
// albums and photostreams only.
func (s *Service) Jobs(ctx context.Context, collectionsOnly bool) ([]queue.Job, error) {
	urls, err := s.registry.URLs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(urls))
	jobs := make([]queue.Job, 0, len(urls))
	for _, u := range urls {
		ref, ok := resource.ParseURL(u)
		if !ok {
			s.logger.Debug().Str("url", u).Msg("Ignoring unrecognised registry URL")
			continue
		}
		if collectionsOnly && !ref.Kind.IsCollection() {
			continue
		}
		if seen[ref.JobKey()] {
			continue
		}
		seen[ref.JobKey()] = true

		job, err := queue.NewJob(ref, u)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Reseed replaces the queue contents with the registry's resources and
// returns the number of jobs seeded.
func (s *Service) Reseed(ctx context.Context, collectionsOnly bool) (int, error) {
	jobs, err := s.Jobs(ctx, collectionsOnly)
	if err != nil {
		return 0, err
	}
	removed, err := s.queue.Reseed(ctx, jobs)
	if err != nil {
		return 0, err
	}
	s.logger.Info().
		Int("jobs", len(jobs)).
		Int("removed", removed).
		Bool("collections_only", collectionsOnly).
		Msg("Queue reseeded from registry")
	return len(jobs), nil
}
