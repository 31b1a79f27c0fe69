package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServerIdWireForm checks the index/generation packing of the wire form.
func TestServerIdWireForm(t *testing.T) {
	id := NewServerId(3, 7)
	assert.Equal(t, uint64(7)<<32|3, id.Uint64())
	assert.Equal(t, id, ServerIdFromUint64(id.Uint64()))
	assert.Equal(t, uint32(3), id.Index())
	assert.Equal(t, uint32(7), id.Generation())
	assert.True(t, id.IsValid())
}

// TestInvalidServerId checks every spelling of the sentinel.
func TestInvalidServerId(t *testing.T) {
	assert.False(t, InvalidServerId.IsValid())
	assert.False(t, ServerId{}.IsValid())
	assert.Equal(t, ^uint64(0), InvalidServerId.Uint64())
	assert.Equal(t, InvalidServerId, ServerIdFromUint64(^uint64(0)))
	assert.Equal(t, InvalidServerId, NewServerId(0, 9))
	assert.Equal(t, "invalid", InvalidServerId.String())
}

// TestServerIdGenerationsDiffer ensures a reused slot is a different id.
func TestServerIdGenerationsDiffer(t *testing.T) {
	first := NewServerId(1, 0)
	second := NewServerId(1, 1)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first.Uint64(), second.Uint64())
}

func TestParseServerId(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ServerId
		wantErr bool
	}{
		{name: "valid", in: "4.2", want: NewServerId(4, 2)},
		{name: "empty is invalid id", in: "", want: InvalidServerId},
		{name: "invalid keyword", in: "invalid", want: InvalidServerId},
		{name: "missing dot", in: "42", wantErr: true},
		{name: "bad index", in: "x.1", wantErr: true},
		{name: "bad generation", in: "1.y", wantErr: true},
		{name: "reserved index", in: "0.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerId(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestServerIdJSON checks that ids survive a trip through a JSON document.
func TestServerIdJSON(t *testing.T) {
	in := struct {
		A ServerId `json:"a"`
		B ServerId `json:"b"`
	}{A: NewServerId(12, 3), B: InvalidServerId}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"12.3","b":"invalid"}`, string(data))

	var out struct {
		A ServerId `json:"a"`
		B ServerId `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
