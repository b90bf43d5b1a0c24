package tickstate

import "encoding/json"

// Marshal renders r into its canonical textual form for the raw_ticks
// table (spec §6), the same struct-tag-driven encoding/json convention the
// teacher uses for its PEStateLog/PortState waveform records in
// core/util.go.
func (r *RawTickState) Marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal decodes the canonical textual form back into a RawTickState.
func Unmarshal(data string) (*RawTickState, error) {
	var r RawTickState
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
