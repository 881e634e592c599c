package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxDurationDrift is the largest allowed gap, in milliseconds, between the code and output traces.
const MaxDurationDrift = 100

// Trace is the validated view of an uploaded trace document. Raw keeps every original key so the
// stored copy is the client's document plus the server timestamp.
type Trace struct {
	Mode           string
	CodeDuration   float64
	OutputDuration float64
	Raw            map[string]json.RawMessage
}

type traceDoc struct {
	Mode  *string `json:"mode"`
	Trace *struct {
		Code   *subTrace `json:"code"`
		Output *subTrace `json:"output"`
	} `json:"trace"`
}

type subTrace struct {
	Duration *float64 `json:"duration"`
}

// Metadata is the client-supplied sidecar describing a recording.
type Metadata struct {
	Title           string  `json:"title"`
	Tag             string  `json:"tag"`
	Description     string  `json:"description"`
	ShowFiles       bool    `json:"showFiles"`
	ContainerHeight float64 `json:"containerHeight"`
	ForkedFrom      *int64  `json:"forkedFrom"`
}

// ParseTrace decodes and checks the structure of a trace upload.
func ParseTrace(data []byte) (*Trace, error) {
	var doc traceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: trace is not valid JSON: %v", ErrValidation, err)
	}
	switch {
	case doc.Mode == nil || *doc.Mode == "":
		return nil, fmt.Errorf("%w: trace has no mode", ErrValidation)
	case doc.Trace == nil:
		return nil, fmt.Errorf("%w: trace has no trace body", ErrValidation)
	case doc.Trace.Code == nil || doc.Trace.Code.Duration == nil:
		return nil, fmt.Errorf("%w: code trace has no duration", ErrValidation)
	case doc.Trace.Output == nil || doc.Trace.Output.Duration == nil:
		return nil, fmt.Errorf("%w: output trace has no duration", ErrValidation)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: trace is not an object: %v", ErrValidation, err)
	}
	return &Trace{
		Mode:           *doc.Mode,
		CodeDuration:   *doc.Trace.Code.Duration,
		OutputDuration: *doc.Trace.Output.Duration,
		Raw:            raw,
	}, nil
}

// CheckDurations enforces |code - output| <= MaxDurationDrift.
func CheckDurations(code, output float64) error {
	if math.IsNaN(code) || math.IsNaN(output) || code < 0 || output < 0 {
		return fmt.Errorf("%w: invalid durations %v/%v", ErrValidation, code, output)
	}
	if drift := math.Abs(code - output); drift > MaxDurationDrift {
		return fmt.Errorf("%w: code and output durations differ by %.0fms (max %dms)", ErrValidation, drift, MaxDurationDrift)
	}
	return nil
}

// Validate runs every structural check on a parsed trace.
func (t *Trace) Validate() error {
	return CheckDurations(t.CodeDuration, t.OutputDuration)
}

// Stamped returns the stored form of the trace: the original keys plus "timestamp".
func (t *Trace) Stamped(ts time.Time) ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(t.Raw)+1)
	for k, v := range t.Raw {
		merged[k] = v
	}
	stamp, err := json.Marshal(ts.UTC())
	if err != nil {
		return nil, err
	}
	merged["timestamp"] = stamp
	return json.Marshal(merged)
}

// ParseMetadata decodes the sidecar. Unknown keys are ignored.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON: %v", ErrValidation, err)
	}
	if m.ContainerHeight < 0 || math.IsNaN(m.ContainerHeight) {
		return nil, fmt.Errorf("%w: containerHeight must be non-negative", ErrValidation)
	}
	return &m, nil
}

// ParentOf resolves forkedFrom for a new recording. Parents must predate the child, which keeps
// the fork graph acyclic.
func (m *Metadata) ParentOf(fileRoot int64) (int64, error) {
	if m.ForkedFrom == nil || *m.ForkedFrom == 0 || *m.ForkedFrom == fileRoot {
		return fileRoot, nil
	}
	if *m.ForkedFrom < 0 || *m.ForkedFrom > fileRoot {
		return 0, fmt.Errorf("%w: forkedFrom %d is not an earlier recording", ErrValidation, *m.ForkedFrom)
	}
	return *m.ForkedFrom, nil
}
