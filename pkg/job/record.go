package job

import "encoding/json"

// UnmarshalJSON decodes the typed fields and keeps the full object in Raw.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(p)
	r.Raw = raw
	return nil
}

// MarshalJSON writes the raw object when present so that fields unknown to
// Record survive a round trip through the cache.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Raw != nil {
		return json.Marshal(r.Raw)
	}
	type plain Record
	return json.Marshal(plain(r))
}
