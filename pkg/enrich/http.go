package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRejected is returned when the enrichment service answers with a
// non-"ok" result.
var ErrRejected = errors.New("enrichment rejected")

// Poster posts a JSON request and decodes the JSON response.
// *client.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, url, operation string, in, out any) error
}

// HTTPEnricher delegates embedding to a remote enrichment service.
type HTTPEnricher struct {
	poster Poster
	url    string
	logger zerolog.Logger
}

// NewHTTPEnricher creates an enricher posting to url.
func NewHTTPEnricher(poster Poster, url string) *HTTPEnricher {
	return &HTTPEnricher{
		poster: poster,
		url:    url,
		logger: log.With().Str("component", "enrich").Str("mode", "http").Logger(),
	}
}

type wireUnit struct {
	ID         string         `json:"id"`
	Key        string         `json:"key"`
	Locator    string         `json:"locator"`
	SplitIndex *int           `json:"split_index,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

type enrichRequest struct {
	Unit         wireUnit          `json:"unit"`
	ArchiveName  string            `json:"archive_name"`
	LastModified time.Time         `json:"last_modified,omitzero"`
	Fields       map[string]string `json:"fields"`
	Payload      string            `json:"payload"`
}

type enrichResponse struct {
	Res      string    `json:"res"`
	Error    string    `json:"error,omitempty"`
	Filename string    `json:"filename"`
	MTime    time.Time `json:"mtime"`
	Enriched string    `json:"enriched"`
}

// Enrich implements Enricher. The service may rename the entry or change its
// modification time; empty values fall back to the locally derived ones.
func (e *HTTPEnricher) Enrich(ctx context.Context, unit job.Unit, locator string, payload []byte) (Enriched, error) {
	start := time.Now()
	defer func() {
		enrichDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	}()

	name := ArchiveName(unit, locator)
	mtime, _ := LastModified(unit)

	req := enrichRequest{
		Unit: wireUnit{
			ID:         unit.ID,
			Key:        unit.Key(),
			Locator:    locator,
			SplitIndex: unit.PartIndex,
			Metadata:   unit.Metadata,
		},
		ArchiveName:  name,
		LastModified: mtime,
		Fields:       DublinCore(unit, locator),
		Payload:      base64.StdEncoding.EncodeToString(payload),
	}

	var resp enrichResponse
	if err := e.poster.PostJSON(ctx, e.url, "enrich", req, &resp); err != nil {
		enrichTotal.WithLabelValues("http", "error").Inc()
		return Enriched{}, fmt.Errorf("enrich %s: %w", unit.Key(), err)
	}
	if resp.Res != "ok" {
		enrichTotal.WithLabelValues("http", "rejected").Inc()
		return Enriched{}, fmt.Errorf("%w: %s: res=%q %s", ErrRejected, unit.Key(), resp.Res, resp.Error)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Enriched)
	if err != nil {
		enrichTotal.WithLabelValues("http", "error").Inc()
		return Enriched{}, fmt.Errorf("enrich %s: decode payload: %w", unit.Key(), err)
	}

	if resp.Filename != "" {
		name = resp.Filename
	}
	if !resp.MTime.IsZero() {
		mtime = resp.MTime.UTC()
	}
	if mtime.IsZero() {
		mtime = time.Now().UTC()
	}

	e.logger.Debug().
		Str("unit", unit.Key()).
		Str("name", name).
		Int("bytes", len(data)).
		Msg("Payload enriched")

	enrichTotal.WithLabelValues("http", "ok").Inc()
	return Enriched{Name: name, LastModified: mtime, Data: data}, nil
}
