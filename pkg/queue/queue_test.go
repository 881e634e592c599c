package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIngestRoundTrip(t *testing.T) {
	payload := IngestPayload{
		FileRoot:  1700000000123,
		Email:     "dev@example.com",
		TracePath: "/tmp/1700000000123-trace",
		AudioPath: "/tmp/1700000000123-audio",
		TempFiles: []string{"/tmp/1700000000123-trace", "/tmp/1700000000123-audio"},
	}
	job, err := NewIngestJob(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobTypeIngest, job.Type)

	got, err := DecodeIngest(job)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeIngestRejectsUnknownType(t *testing.T) {
	_, err := DecodeIngest(&Job{Type: "email", Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestDecodeIngestRejectsMissingFileRoot(t *testing.T) {
	_, err := DecodeIngest(&Job{Type: JobTypeIngest, Payload: json.RawMessage(`{"email":"a@b.c"}`)})
	assert.Error(t, err)
}
