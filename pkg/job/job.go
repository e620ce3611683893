// Package job defines the records enumerated from the remote archive and the
// export units derived from them.
package job

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RecordStub is the coarse entry returned by a day listing.
type RecordStub struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Record is the full detail record for a job.
type Record struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	ImagePaths     []string `json:"image_paths"`
	Username       string   `json:"username"`
	Prompt         string   `json:"prompt"`
	FullCommand    string   `json:"full_command"`
	ReferenceJobID string   `json:"reference_job_id"`
	EnqueueTime    string   `json:"enqueue_time"`

	// Raw holds the full JSON object as received. It is opaque to the
	// exporter and ends up in enrichment input and the manifest.
	Raw map[string]any `json:"-"`
}

// Metadata returns the record's opaque metadata, falling back to the typed
// fields when the raw object was not captured.
func (r Record) Metadata() map[string]any {
	if r.Raw != nil {
		return r.Raw
	}
	m := map[string]any{
		"id":               r.ID,
		"type":             r.Type,
		"image_paths":      r.ImagePaths,
		"username":         r.Username,
		"prompt":           r.Prompt,
		"full_command":     r.FullCommand,
		"reference_job_id": r.ReferenceJobID,
		"enqueue_time":     r.EnqueueTime,
	}
	return m
}

// Unit is one fetch-enrich-archive work item. A composite record expanded
// in split mode yields one Unit per image, each with a PartIndex.
type Unit struct {
	ID        string
	Locators  []string
	PartIndex *int
	Metadata  map[string]any
}

// Key identifies the unit uniquely within a run.
func (u Unit) Key() string {
	if u.PartIndex == nil {
		return u.ID
	}
	return fmt.Sprintf("%s_%d", u.ID, *u.PartIndex)
}

// Locator returns the locator of the payload to archive. Unsplit composite
// units archive their first image.
func (u Unit) Locator() (string, bool) {
	if len(u.Locators) == 0 || u.Locators[0] == "" {
		return "", false
	}
	return u.Locators[0], true
}

// String returns a metadata field as a string, or "" if absent.
func (u Unit) String(key string) string {
	v, ok := u.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Expand turns a record into export units. Without split the record becomes
// a single unit carrying every locator. With split each locator becomes its
// own unit with PartIndex 0..K-1 and a copy of the parent metadata.
//
// The copied metadata is not adjusted to describe the sub-part; only the
// PartIndex distinguishes the units.
func Expand(rec Record, split bool) []Unit {
	meta := rec.Metadata()
	if !split {
		return []Unit{{
			ID:       rec.ID,
			Locators: slices.Clone(rec.ImagePaths),
			Metadata: meta,
		}}
	}

	units := make([]Unit, 0, len(rec.ImagePaths))
	for i, loc := range rec.ImagePaths {
		idx := i
		units = append(units, Unit{
			ID:        rec.ID,
			Locators:  []string{loc},
			PartIndex: &idx,
			Metadata:  maps.Clone(meta),
		})
	}
	return units
}

// SplitMode decides per record whether composite records are split.
type SplitMode string

const (
	// SplitNone never splits.
	SplitNone SplitMode = "none"

	// SplitAll splits every record, including single-image ones.
	SplitAll SplitMode = "all"

	// SplitGrids splits only records with more than one image.
	SplitGrids SplitMode = "grids"
)

// ParseSplitMode parses a split mode name.
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(strings.ToLower(s)); m {
	case SplitNone, SplitAll, SplitGrids:
		return m, nil
	case "":
		return SplitNone, nil
	default:
		return "", fmt.Errorf("unknown split mode %q", s)
	}
}

// ShouldSplit reports whether rec is split under mode m.
func (m SplitMode) ShouldSplit(rec Record) bool {
	switch m {
	case SplitAll:
		return true
	case SplitGrids:
		return len(rec.ImagePaths) > 1
	default:
		return false
	}
}

// Predicate selects which day-list entries are exported.
type Predicate func(RecordStub) bool

// TypeIn matches stubs whose type is one of types. An empty list matches all.
func TypeIn(types ...string) Predicate {
	if len(types) == 0 {
		return func(RecordStub) bool { return true }
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = struct{}{}
	}
	return func(s RecordStub) bool {
		_, ok := set[strings.ToLower(s.Type)]
		return ok
	}
}

// Filter returns the stubs matching p, preserving order.
func Filter(stubs []RecordStub, p Predicate) []RecordStub {
	if p == nil {
		return stubs
	}
	out := make([]RecordStub, 0, len(stubs))
	for _, s := range stubs {
		if p(s) {
			out = append(out, s)
		}
	}
	return out
}
