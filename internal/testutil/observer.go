package testutil

import (
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// RecordingObserver counts observer events.
type RecordingObserver struct {
	mu       sync.Mutex
	Scanned  int
	Skipped  map[string]int
	Plans    map[stagetypes.Action]int
	Attempts int
	Finished map[stagetypes.UploadStatus]int
	Bytes    int64
	EvictedN int
}

var _ stagetypes.Observer = (*RecordingObserver)(nil)

// NewRecordingObserver returns an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{
		Skipped:  make(map[string]int),
		Plans:    make(map[stagetypes.Action]int),
		Finished: make(map[stagetypes.UploadStatus]int),
	}
}

func (o *RecordingObserver) FileScanned(stagetypes.Format, int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Scanned++
}

func (o *RecordingObserver) FileSkipped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Skipped[reason]++
}

func (o *RecordingObserver) Planned(action stagetypes.Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Plans[action]++
}

func (o *RecordingObserver) UploadAttempt(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Attempts++
}

func (o *RecordingObserver) UploadFinished(status stagetypes.UploadStatus, bytes int64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Finished[status]++
	o.Bytes += bytes
}

func (o *RecordingObserver) Evicted(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.EvictedN += n
}

// FinishedCount returns the number of uploads that ended in status.
func (o *RecordingObserver) FinishedCount(status stagetypes.UploadStatus) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Finished[status]
}
