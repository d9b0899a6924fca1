package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityEqual(t *testing.T) {
	a := NewEntity("e1", Fields("value", "hi"))

	assert.True(t, a.Equal(NewEntity("e1", Fields("value", "hi"))))
	assert.False(t, a.Equal(NewEntity("e2", Fields("value", "hi"))))
	assert.False(t, a.Equal(NewEntity("e1", Fields("value", "ho"))))
	assert.True(t, NewEntity("e", nil).Equal(NewEntity("e", IRObject{})))
}

func TestEntityPtrEqual(t *testing.T) {
	e := NewEntity("e", Fields("value", "v"))
	assert.True(t, EntityPtrEqual(nil, nil))
	assert.False(t, EntityPtrEqual(&e, nil))
	assert.True(t, EntityPtrEqual(&e, &Entity{ID: "e", Data: Fields("value", "v")}))
}

func TestReferencePointer(t *testing.T) {
	e := NewEntity("e1", Fields("value", "big"))
	ref := e.Reference("backing://things")
	ptr := ref.Pointer()

	assert.True(t, ptr.IsPointer())
	assert.False(t, e.IsPointer())
	assert.Equal(t, "e1@backing://things", ptr.String())

	back, ok := ptr.AsReference()
	assert.True(t, ok)
	assert.Equal(t, ref, back)
	_, ok = e.AsReference()
	assert.False(t, ok)
}

func TestEntityJSONUsesSnakeCase(t *testing.T) {
	data, err := json.Marshal(Reference{ID: "e1", StorageKey: "k"}.Pointer())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1","storage_key":"k"}`, string(data))

	var back Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e2","data":{"value":"x"}}`), &back))
	assert.Equal(t, NewEntity("e2", Fields("value", "x")), back)
}

func TestSnapshotJSONShape(t *testing.T) {
	v := NewEntity("e1", Fields("value", "x"))
	data, err := json.Marshal(VariableSnapshot(&v, 4))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":[{"id":"e1","value":{"id":"e1","data":{"value":"x"}}}],"version":4}`, string(data))

	data, err = json.Marshal(VariableSnapshot(nil, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":[],"version":0}`, string(data))
}
