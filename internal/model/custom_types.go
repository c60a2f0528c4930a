package model

import (
	"database/sql"
	"encoding/json"
)

// JsonNullInt64 wraps sql.NullInt64 so optional foreign keys marshal as a
// number or null instead of the sql.NullInt64 envelope.
type JsonNullInt64 struct {
	sql.NullInt64
}

func (v JsonNullInt64) MarshalJSON() ([]byte, error) {
	if v.Valid {
		return json.Marshal(v.Int64)
	}
	return json.Marshal(nil)
}

func (v *JsonNullInt64) UnmarshalJSON(data []byte) error {
	var p *int64
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p != nil {
		v.Int64, v.Valid = *p, true
	} else {
		v.Int64, v.Valid = 0, false
	}
	return nil
}

// NullInt64From builds a valid JsonNullInt64 from a pointer.
func NullInt64From(p *int64) JsonNullInt64 {
	if p == nil {
		return JsonNullInt64{}
	}
	return JsonNullInt64{sql.NullInt64{Int64: *p, Valid: true}}
}
