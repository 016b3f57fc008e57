package eventlog

import (
	"encoding/json"
	"time"
)

// MarshalJSON flattens Data alongside t/type/level so the on-disk line is a
// single flat JSON object, matching the teacher's progress.ndjson shape.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		out[k] = v
	}
	out["t"] = e.T.UTC().Format(time.RFC3339Nano)
	out["type"] = e.Type
	out["level"] = e.Level
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, putting every field other than
// t/type/level into Data.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "t":
			var ts string
			if err := json.Unmarshal(v, &ts); err == nil {
				if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
					e.T = parsed
				}
			}
		case "type":
			_ = json.Unmarshal(v, &e.Type)
		case "level":
			_ = json.Unmarshal(v, &e.Level)
		default:
			var val any
			_ = json.Unmarshal(v, &val)
			data[k] = val
		}
	}
	e.Data = data
	return nil
}
