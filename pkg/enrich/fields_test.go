package enrich

import (
	"encoding/json"
	"testing"

	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDublinCore(t *testing.T) {
	u := job.Unit{
		ID:        "job-1",
		PartIndex: part(1),
		Metadata: map[string]any{
			"id":               "job-1",
			"username":         "alice",
			"prompt":           "a red fox",
			"full_command":     "a red fox --ar 3:2",
			"reference_job_id": "ref-0",
			"enqueue_time":     "2024-03-04 05:06:07.891011",
		},
	}
	locator := "https://cdn.midjourney.com/job-1/0_1.png"

	fields := DublinCore(u, locator)

	assert.Equal(t, "Midjourney", fields["dc.publisher"])
	assert.Equal(t, "Transfix Metadata Embed", fields["dc.contributor"])
	assert.Equal(t, "alice", fields["dc.creator"])
	assert.Equal(t, "2024-03-04 05:06:07.891011", fields["dc.date"])
	assert.Equal(t, "a red fox --ar 3:2", fields["dc.title"])
	assert.Equal(t, "job-1", fields["dc.identifier"])
	assert.Equal(t, "ref-0", fields["dc.source"])
	assert.Equal(t, "a red fox", fields["dc.subject"])
	assert.Equal(t, locator, fields["xmp.BaseURL"])
	assert.Equal(t, "2024-03-04 05:06:07.891", fields["xmp.CreateDate"])
	assert.Equal(t, "Midjourney", fields["xmp.CreatorTool"])

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(fields["midjourney.midjourneyJobData"]), &data))
	assert.Equal(t, "job-1", data["id"])
	assert.EqualValues(t, 1, data["split_index"])
	_, tagged := u.Metadata["split_index"]
	assert.False(t, tagged, "unit metadata must not be modified")
}

func TestDublinCore_SparseMetadata(t *testing.T) {
	fields := DublinCore(job.Unit{ID: "bare"}, "https://x/y.png")

	assert.Equal(t, "", fields["dc.subject"])
	assert.Equal(t, "", fields["dc.creator"])
	assert.Equal(t, "bare", fields["dc.identifier"])
	_, ok := fields["xmp.CreateDate"]
	assert.False(t, ok)
	assert.JSONEq(t, `{"id":"bare"}`, fields["midjourney.midjourneyJobData"])
}
