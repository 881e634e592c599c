package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDurations(t *testing.T) {
	tests := []struct {
		name   string
		code   float64
		output float64
		ok     bool
	}{
		{"equal", 4000, 4000, true},
		{"within tolerance", 5000, 5090, true},
		{"output shorter", 5090, 5000, true},
		{"exactly at tolerance", 5000, 5100, true},
		{"just over tolerance", 5000, 5100.5, false},
		{"far apart", 5000, 5200, false},
		{"scenario b", 4000, 5000, false},
		{"negative", -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDurations(tt.code, tt.output)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestParseTrace(t *testing.T) {
	tr, err := ParseTrace([]byte(`{"mode":"python","trace":{"code":{"duration":4000,"records":[]},"output":{"duration":4050}}}`))
	require.NoError(t, err)
	assert.Equal(t, "python", tr.Mode)
	assert.Equal(t, 4000.0, tr.CodeDuration)
	assert.Equal(t, 4050.0, tr.OutputDuration)
	assert.NoError(t, tr.Validate())
}

func TestParseTraceRejectsMalformed(t *testing.T) {
	bad := map[string]string{
		"not json":        `{"mode":`,
		"array":           `[1,2]`,
		"no mode":         `{"trace":{"code":{"duration":1},"output":{"duration":1}}}`,
		"no trace body":   `{"mode":"java"}`,
		"no code":         `{"mode":"java","trace":{"output":{"duration":1}}}`,
		"no output dur":   `{"mode":"java","trace":{"code":{"duration":1},"output":{}}}`,
		"string duration": `{"mode":"java","trace":{"code":{"duration":"1"},"output":{"duration":1}}}`,
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTrace([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestStampedKeepsOriginalKeys(t *testing.T) {
	tr, err := ParseTrace([]byte(`{"mode":"go","extra":{"a":1},"trace":{"code":{"duration":10},"output":{"duration":12}}}`))
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out, err := tr.Stamped(ts)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "go", doc["mode"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, doc["extra"])
	assert.Equal(t, "2024-03-01T12:00:00Z", doc["timestamp"])
	assert.Contains(t, doc, "trace")
}

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata([]byte(`{"title":"Demo","tag":"python","description":"x","showFiles":true,"containerHeight":300,"forkedFrom":null}`))
	require.NoError(t, err)
	assert.Equal(t, "Demo", m.Title)
	assert.True(t, m.ShowFiles)
	assert.Nil(t, m.ForkedFrom)

	_, err = ParseMetadata([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = ParseMetadata([]byte(`{"containerHeight":-4}`))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestParentOf(t *testing.T) {
	ptr := func(v int64) *int64 { return &v }

	root, err := (&Metadata{}).ParentOf(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), root, "no parent means self-referential root")

	root, err = (&Metadata{ForkedFrom: ptr(0)}).ParentOf(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), root)

	parent, err := (&Metadata{ForkedFrom: ptr(40)}).ParentOf(100)
	require.NoError(t, err)
	assert.Equal(t, int64(40), parent)

	_, err = (&Metadata{ForkedFrom: ptr(200)}).ParentOf(100)
	assert.True(t, errors.Is(err, ErrValidation))
}
