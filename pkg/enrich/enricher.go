// Package enrich turns a downloaded payload and its unit metadata into the
// archive entry: a derived name, a modification time and the enriched bytes.
package enrich

import (
	"context"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Enriched is the enriched form of one unit.
type Enriched struct {
	Name         string
	LastModified time.Time
	Data         []byte
}

// Enricher enriches the payload fetched from locator for unit. It must be
// safe for concurrent use.
type Enricher interface {
	Enrich(ctx context.Context, unit job.Unit, locator string, payload []byte) (Enriched, error)
}

// Passthrough names and timestamps entries locally and archives the payload
// unchanged. It is used when no enrichment service is configured.
type Passthrough struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewPassthrough creates a local enricher.
func NewPassthrough() *Passthrough {
	return &Passthrough{
		logger: log.With().Str("component", "enrich").Logger(),
		now:    time.Now,
	}
}

// Enrich implements Enricher.
func (p *Passthrough) Enrich(ctx context.Context, unit job.Unit, locator string, payload []byte) (Enriched, error) {
	if err := ctx.Err(); err != nil {
		return Enriched{}, err
	}

	start := time.Now()
	mtime := p.lastModified(unit)
	enrichTotal.WithLabelValues("passthrough", "ok").Inc()
	enrichDuration.WithLabelValues("passthrough").Observe(time.Since(start).Seconds())

	return Enriched{
		Name:         ArchiveName(unit, locator),
		LastModified: mtime,
		Data:         payload,
	}, nil
}

func (p *Passthrough) lastModified(unit job.Unit) time.Time {
	t, err := LastModified(unit)
	if err != nil {
		p.logger.Debug().Err(err).Str("unit", unit.Key()).Msg("Using current time as modification time")
		return p.now().UTC()
	}
	return t
}
