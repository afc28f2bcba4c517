package finding

import "encoding/json"

// MarshalReport serialises a Report to JSON.
func MarshalReport(r *Report) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReport deserialises a Report from JSON.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalFinding serialises a Finding to JSON.
func MarshalFinding(f *Finding) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFinding deserialises a Finding from JSON.
func UnmarshalFinding(data []byte) (*Finding, error) {
	var f Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
