package ir

// ModelEntry is one serialized model row. Collections carry witness Keys;
// Variables leave Keys empty.
type ModelEntry struct {
	ID    string   `json:"id"`
	Value Entity   `json:"value"`
	Keys  []string `json:"keys,omitempty"`
}

// Snapshot is the serialized form of a store at a version:
//
//	Collection: {model: [{id, value, keys}], version}
//	Variable:   {model: [{id, value}] | [], version}
type Snapshot struct {
	Model   []ModelEntry `json:"model"`
	Version int64        `json:"version"`
}

// VariableSnapshot builds the snapshot form of a Variable holding value
// (nil for an empty Variable).
func VariableSnapshot(value *Entity, version int64) Snapshot {
	model := []ModelEntry{}
	if value != nil {
		model = append(model, ModelEntry{ID: value.ID, Value: *value})
	}
	return Snapshot{Model: model, Version: version}
}

// VariableValue extracts the Variable value from a snapshot.
func (s Snapshot) VariableValue() *Entity {
	if len(s.Model) == 0 {
		return nil
	}
	v := s.Model[0].Value
	return &v
}
