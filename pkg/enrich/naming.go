package enrich

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/job"
)

// maxNameLen bounds the archive name stem including the "_<id>" suffix.
const maxNameLen = 100

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9 .\-_]`)

// enqueueLayouts are the accepted enqueue_time formats. Values without a zone
// are UTC.
var enqueueLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ArchiveName derives the entry name for u:
//
//	<username>_<lowercased prompt>[..]_<id>[_<part>].<ext>
//
// Characters outside [a-zA-Z0-9 .-_] are dropped, spaces become underscores
// and the stem is cut so that stem plus "_<id>" fits in 100 characters. The
// extension comes from the locator.
func ArchiveName(u job.Unit, locator string) string {
	name := fmt.Sprintf("%s_%s", u.String("username"), strings.ToLower(u.String("prompt")))
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")

	limit := maxNameLen - len(u.ID) - 1
	if limit < 0 {
		limit = 0
	}
	if len(name) > limit {
		name = name[:limit]
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("_")
	b.WriteString(u.ID)
	if u.PartIndex != nil {
		fmt.Fprintf(&b, "_%d", *u.PartIndex)
	}
	b.WriteString(".")
	b.WriteString(locatorExt(locator))
	return b.String()
}

// locatorExt returns the extension of the locator's path without the dot.
func locatorExt(locator string) string {
	p := locator
	if parsed, err := url.Parse(locator); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return "png"
	}
	return ext
}

// LastModified parses the unit's enqueue_time as UTC.
func LastModified(u job.Unit) (time.Time, error) {
	raw := strings.TrimSpace(u.String("enqueue_time"))
	if raw == "" {
		return time.Time{}, fmt.Errorf("unit %s: enqueue_time missing", u.Key())
	}
	for _, layout := range enqueueLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unit %s: unparseable enqueue_time %q", u.Key(), raw)
}

// createDate renders t as "YYYY-MM-DD HH:MM:SS.mmm".
func createDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}
