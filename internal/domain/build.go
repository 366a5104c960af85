package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// datasetNameRe restricts dataset names to safe file-name characters so that a
// name maps to exactly one cache file inside the cache directory.
var datasetNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Build statuses.
const (
	StatusBuilt   = "built"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// RawEvent is an unprocessed message from the build-request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the build-result topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// BuildRequest asks for the cache of Dataset to be (re)built from Source.
type BuildRequest struct {
	Dataset string `json:"dataset"`
	Source  string `json:"source"`
	Force   bool   `json:"force,omitempty"`
}

// Validate checks the request fields.
func (r BuildRequest) Validate() error {
	if !ValidDatasetName(r.Dataset) {
		return fmt.Errorf("invalid dataset name %q", r.Dataset)
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("dataset %s: source is required", r.Dataset)
	}
	return nil
}

// ValidDatasetName reports whether name can be used as a dataset identifier.
func ValidDatasetName(name string) bool {
	return datasetNameRe.MatchString(name)
}

// BuildResult reports the outcome of a BuildRequest.
type BuildResult struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	Source     string    `json:"source"`
	Cache      string    `json:"cache,omitempty"`
	Object     string    `json:"object,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	NTides     int       `json:"ntides,omitempty"`
	NLocs      int       `json:"nlocs,omitempty"`
	Location   Location  `json:"location,omitempty"`
	Mesh       string    `json:"mesh,omitempty"`
	Transposed bool      `json:"transposed,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// ParseBuildRequest deserializes a RawEvent's value into a BuildRequest.
// A message without a dataset field falls back to its key.
func ParseBuildRequest(raw RawEvent) (BuildRequest, error) {
	var req BuildRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return BuildRequest{}, fmt.Errorf("parse build request: %w", err)
	}
	if req.Dataset == "" {
		req.Dataset = string(raw.Key)
	}
	req.Dataset = strings.TrimSpace(req.Dataset)
	req.Source = strings.TrimSpace(req.Source)
	if err := req.Validate(); err != nil {
		return BuildRequest{}, fmt.Errorf("parse build request: %w", err)
	}
	return req, nil
}

// SerializeBuildResult converts a BuildResult into an OutputEvent keyed by dataset,
// so results for one dataset stay ordered within a partition.
func SerializeBuildResult(res BuildResult) (OutputEvent, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize build result: %w", err)
	}
	return OutputEvent{
		Key:   []byte(res.Dataset),
		Value: data,
		Headers: map[string]string{
			"status":      res.Status,
			"finished_at": res.FinishedAt.Format(time.RFC3339),
		},
	}, nil
}
