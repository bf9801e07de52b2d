// Package stagetypes provides shared type definitions for stage synchronization.
package stagetypes

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Format identifies the data format of a staged file.
type Format string

// Supported file formats
const (
	// FormatCSV is comma separated values
	FormatCSV Format = "CSV"

	// FormatJSON is JSON or JSON lines
	FormatJSON Format = "JSON"

	// FormatParquet is Apache Parquet, including snappy-compressed files
	FormatParquet Format = "PARQUET"
)

// formatSuffixes is checked in order; longer suffixes come first.
var formatSuffixes = []struct {
	suffix string
	format Format
}{
	{".snappy.parquet", FormatParquet},
	{".parquet", FormatParquet},
	{".csv", FormatCSV},
	{".json", FormatJSON},
}

// FormatFromName returns the format implied by a file name's extension.
// The match is case-insensitive.
func FormatFromName(name string) (Format, bool) {
	lower := strings.ToLower(path.Base(name))
	for _, fs := range formatSuffixes {
		if strings.HasSuffix(lower, fs.suffix) && len(lower) > len(fs.suffix) {
			return fs.format, true
		}
	}
	return "", false
}

// ParseFormat parses a format name such as "csv" or "PARQUET".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// DefaultContentType is used when content sniffing is inconclusive.
func (f Format) DefaultContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// Partition is one dimension/value pair taken from a key=value directory.
type Partition struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PartitionKey is an ordered list of partitions, outermost directory first.
type PartitionKey []Partition

// Render returns the partition key as slash-joined key=value segments.
func (pk PartitionKey) Render() string {
	if len(pk) == 0 {
		return ""
	}
	parts := make([]string, len(pk))
	for i, p := range pk {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, "/")
}

// String implements fmt.Stringer.
func (pk PartitionKey) String() string {
	return pk.Render()
}

// Get returns the value of the first partition named key.
func (pk PartitionKey) Get(key string) (string, bool) {
	for _, p := range pk {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// FileRecord describes one classified local file. It is built once by the
// classifier and never mutated afterwards.
type FileRecord struct {
	// LocalPath is the path on the scanned filesystem
	LocalPath string

	// RelPath is LocalPath relative to the scan root, slash separated
	RelPath string

	// Format is derived from the file extension
	Format Format

	// PartitionKey is derived from key=value directories between root and file
	PartitionKey PartitionKey

	// SizeBytes is the file size at scan time
	SizeBytes int64

	// Fingerprint identifies the file content independent of its path
	Fingerprint string

	// ModTime is the modification time at scan time
	ModTime time.Time
}

// Name returns the base file name.
func (r FileRecord) Name() string {
	return path.Base(r.RelPath)
}

// UploadStatus is the ledger state of one fingerprint.
type UploadStatus string

// Ledger states. DONE has no outgoing transition.
const (
	StatusPending    UploadStatus = "PENDING"
	StatusInProgress UploadStatus = "IN_PROGRESS"
	StatusDone       UploadStatus = "DONE"
	StatusFailed     UploadStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends an upload attempt.
func (s UploadStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// UploadRecord is the ledger entry for one fingerprint.
type UploadRecord struct {
	Fingerprint     string       `json:"fingerprint"`
	RemoteLocation  string       `json:"remote_location"`
	Status          UploadStatus `json:"status"`
	LastAttemptTime time.Time    `json:"last_attempt_time"`
	AttemptCount    int          `json:"attempt_count"`

	// Reason holds the last failure or eviction note
	Reason string `json:"reason,omitempty"`

	// LocalPath is informational; the fingerprint is the identity
	LocalPath string `json:"local_path,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Action is what a sync run will do with a classified file.
type Action string

// Plan actions
const (
	// ActionSkip leaves the file alone
	ActionSkip Action = "SKIP"

	// ActionUpload stages content the ledger has never completed
	ActionUpload Action = "UPLOAD"

	// ActionRetry resumes content with earlier attempts on record
	ActionRetry Action = "RETRY"
)

// PlanEntry pairs a file with the action planned for it.
type PlanEntry struct {
	Record         FileRecord
	Action         Action
	Reason         string
	RemoteLocation string

	// Existing is the ledger record consulted, if any
	Existing *UploadRecord
}

// SyncPlan is the per-run join of scanned files against the ledger.
type SyncPlan struct {
	Entries []PlanEntry

	// ScanSkipped lists files the classifier did not yield
	ScanSkipped []SkippedFile
}

// Count returns the number of entries with the given action.
func (p *SyncPlan) Count(action Action) int {
	n := 0
	for _, e := range p.Entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// Dispatchable returns the entries that need an upload.
func (p *SyncPlan) Dispatchable() []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		if e.Action == ActionUpload || e.Action == ActionRetry {
			out = append(out, e)
		}
	}
	return out
}

// UploadOutcome is the result of staging one file.
type UploadOutcome struct {
	Status         UploadStatus
	RemoteLocation string
	Attempts       int
	Reason         string
	Err            error
	Bytes          int64
	Duration       time.Duration

	// Aborted is set when the caller cancelled before a terminal result
	Aborted bool
}

// Failure reports a file that ended the run FAILED.
type Failure struct {
	Record FileRecord
	Reason string
}

// SkippedFile is a scanned path that produced no FileRecord.
type SkippedFile struct {
	Path   string
	Reason string
}

// Skip reasons reported by the classifier.
const (
	SkipReasonUnknownFormat = "unrecognized extension"
	SkipReasonExcluded      = "excluded by pattern"
	SkipReasonUnreadable    = "unreadable"
)

// SyncReport is the outcome of one sync run.
type SyncReport struct {
	RunID    string
	Uploaded int
	Skipped  int
	Failed   int
	Failures []Failure

	// BytesUploaded is the total bytes staged in this run
	BytesUploaded int64

	// ScanSkipped lists files the classifier did not yield
	ScanSkipped []SkippedFile

	// Conflicts counts uploads that yielded to a concurrent holder
	Conflicts int

	// Aborted counts uploads left IN_PROGRESS by cancellation
	Aborted int

	// Cancelled is set when the run stopped before dispatching everything
	Cancelled bool

	Duration time.Duration
}

// TotalFailure reports failures with nothing staged or already staged.
func (r *SyncReport) TotalFailure() bool {
	return r.Failed > 0 && r.Uploaded == 0 && r.Skipped == 0
}

// PartialSuccess reports failures alongside at least one success.
func (r *SyncReport) PartialSuccess() bool {
	return r.Failed > 0 && !r.TotalFailure()
}

// VerifyResult lists DONE records whose remote object could not be found.
type VerifyResult struct {
	Checked int
	Missing []UploadRecord
}
