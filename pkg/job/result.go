package job

import (
	"encoding/json"
	"maps"
	"time"
)

// Result is the outcome of enriching one unit: either a success carrying the
// enriched payload or a failure carrying the error description.
type Result struct {
	Unit         Unit
	OK           bool
	Name         string
	LastModified time.Time
	Data         []byte
	Err          string
	At           time.Time
}

// Success builds a successful result.
func Success(u Unit, name string, lastModified time.Time, data []byte) Result {
	return Result{
		Unit:         u,
		OK:           true,
		Name:         name,
		LastModified: lastModified,
		Data:         data,
		At:           time.Now().UTC(),
	}
}

// Failure builds a failed result from err.
func Failure(u Unit, err error) Result {
	return Result{
		Unit: u,
		Err:  err.Error(),
		At:   time.Now().UTC(),
	}
}

// ManifestLine renders the unit metadata for the manifest, tagged with the
// split index and archive name when known.
func ManifestLine(r Result) ([]byte, error) {
	line := maps.Clone(r.Unit.Metadata)
	if line == nil {
		line = map[string]any{"id": r.Unit.ID}
	}
	if r.Unit.PartIndex != nil {
		line["split_index"] = *r.Unit.PartIndex
	}
	if r.OK {
		line["archive_name"] = r.Name
	}
	return json.Marshal(line)
}

// ErrorLine renders a failed result for the error log.
func ErrorLine(r Result) ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Key       string    `json:"key"`
		Locators  []string  `json:"locators"`
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}{
		ID:        r.Unit.ID,
		Key:       r.Unit.Key(),
		Locators:  r.Unit.Locators,
		Error:     r.Err,
		Timestamp: r.At,
	})
}
