package exitcode

// Exit codes for the stagesync CLI.
// Schedulers can use these to decide whether a rerun can help.
const (
	// Success - every file is staged or was already staged
	Success = 0

	// ConfigError - missing or invalid configuration, or the stage could not
	// be set up. Don't retry: fix the config first
	ConfigError = 1

	// ScanError - the local root could not be read
	ScanError = 2

	// PartialFailure - some files failed or the run was interrupted.
	// Rerun after the eviction window, or evict and rerun
	PartialFailure = 3

	// TotalFailure - files needed staging and none made it
	TotalFailure = 4

	// LedgerError - the ledger store failed or is corrupt.
	// Don't rerun until the store is healthy
	LedgerError = 5
)
