package cache

import (
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "job record",
			key:  JobKey("0b6f-11aa"),
			want: "transfix:job:0b6f-11aa",
		},
		{
			name: "day without params",
			key:  DayKey("2024-03-01", nil),
			want: "transfix:day:2024-03-01",
		},
		{
			name: "day with params (sorted)",
			key: DayKey("2024-03-01", map[string]string{
				"type":      "upscale",
				"jobStatus": "completed",
			}),
			want: "transfix:day:2024-03-01:jobStatus=completed:type=upscale",
		},
		{
			name: "empty key",
			key:  CacheKey{},
			want: "transfix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}
	want := DayKey("2024-01-01", params).String()
	for i := 0; i < 50; i++ {
		if got := DayKey("2024-01-01", params).String(); got != want {
			t.Fatalf("String() not deterministic: %q vs %q", got, want)
		}
	}
}
