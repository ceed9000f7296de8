package types

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Vehicle binds a physical tag to a registration plate. TagID is unique
// across the registry.
type Vehicle struct {
	TagID       string `json:"tagId"`
	VehicleNo   string `json:"vehicleNo"`
	OwnerName   string `json:"ownerName,omitempty"`
	ApartmentNo string `json:"apartmentNo,omitempty"`

	// Extra holds fields the gate does not interpret, such as the
	// dashboard's id and lastEntry. They are written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

var vehicleKeys = []string{"tagId", "vehicleNo", "ownerName", "apartmentNo"}

// Equal compares every field, including Extra.
func (v Vehicle) Equal(o Vehicle) bool {
	if v.TagID != o.TagID || v.VehicleNo != o.VehicleNo ||
		v.OwnerName != o.OwnerName || v.ApartmentNo != o.ApartmentNo {
		return false
	}
	return maps.EqualFunc(v.Extra, o.Extra, func(a, b json.RawMessage) bool { return bytes.Equal(a, b) })
}

// Clone returns a copy that shares nothing with v.
func (v Vehicle) Clone() Vehicle {
	if v.Extra != nil {
		extra := make(map[string]json.RawMessage, len(v.Extra))
		for k, raw := range v.Extra {
			extra[k] = slices.Clone(raw)
		}
		v.Extra = extra
	}
	return v
}

// MarshalJSON writes the known fields first, then Extra in key order.
func (v Vehicle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(key string, raw []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
	}

	for _, kv := range []struct {
		key, val  string
		omitEmpty bool
	}{
		{"tagId", v.TagID, false},
		{"vehicleNo", v.VehicleNo, false},
		{"ownerName", v.OwnerName, true},
		{"apartmentNo", v.ApartmentNo, true},
	} {
		if kv.omitEmpty && kv.val == "" {
			continue
		}
		raw, err := json.Marshal(kv.val)
		if err != nil {
			return nil, err
		}
		field(kv.key, raw)
	}

	for _, k := range slices.Sorted(maps.Keys(v.Extra)) {
		if slices.Contains(vehicleKeys, k) {
			continue
		}
		raw := v.Extra[k]
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		field(k, raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Vehicle
	for _, dst := range []struct {
		key string
		ptr *string
	}{
		{"tagId", &out.TagID},
		{"vehicleNo", &out.VehicleNo},
		{"ownerName", &out.OwnerName},
		{"apartmentNo", &out.ApartmentNo},
	} {
		raw, ok := fields[dst.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst.ptr); err != nil {
			return err
		}
		delete(fields, dst.key)
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*v = out
	return nil
}
