package enrich

import (
	"encoding/json"
	"maps"

	"github.com/Sternrassler/transfix-export/pkg/job"
)

// Field values that do not depend on the unit.
const (
	Publisher   = "Midjourney"
	Contributor = "Transfix Metadata Embed"
	CreatorTool = "Midjourney"
)

// DublinCore returns the descriptive fields embedded into the payload of u.
// Absent metadata yields empty values. xmp.CreateDate is omitted when the
// enqueue time cannot be parsed.
func DublinCore(u job.Unit, locator string) map[string]string {
	fields := map[string]string{
		"dc.publisher":                 Publisher,
		"dc.contributor":               Contributor,
		"dc.creator":                   u.String("username"),
		"dc.date":                      u.String("enqueue_time"),
		"dc.title":                     u.String("full_command"),
		"dc.identifier":                u.ID,
		"dc.source":                    u.String("reference_job_id"),
		"dc.subject":                   u.String("prompt"),
		"midjourney.midjourneyJobData": jobData(u),
		"xmp.BaseURL":                  locator,
		"xmp.CreatorTool":              CreatorTool,
	}
	if t, err := LastModified(u); err == nil {
		fields["xmp.CreateDate"] = createDate(t)
	}
	return fields
}

// jobData serializes the unit metadata, tagged with its split index.
func jobData(u job.Unit) string {
	data := maps.Clone(u.Metadata)
	if data == nil {
		data = map[string]any{"id": u.ID}
	}
	if u.PartIndex != nil {
		data["split_index"] = *u.PartIndex
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
