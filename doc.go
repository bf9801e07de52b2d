// Package stagesync stages a local directory of partitioned data files into a
// remote object stage, uploading each distinct file content at most once.
//
// A Syncer scans a local tree for CSV, JSON and Parquet files, derives each
// file's partition from key=value directory segments, and consults a durable
// ledger keyed by content fingerprint before uploading. Runs are idempotent:
// re-running over an unchanged tree uploads nothing, and concurrent runs
// sharing a ledger never stage the same content twice.
//
// Example usage:
//
//	st, err := s3stage.New(ctx, "landing-bucket", s3stage.WithRegion("eu-west-1"))
//	if err != nil {
//	    return err
//	}
//	store, err := ledger.OpenFileStore(billy.NewOSFS("/"), "/var/lib/stagesync/ledger.jsonl")
//	if err != nil {
//	    return err
//	}
//	syncer, err := stagesync.New(st, store, stagesync.WithConcurrency(8))
//	if err != nil {
//	    return err
//	}
//
//	report, err := syncer.Sync(ctx, "/data/sales", "landing")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("uploaded %d, skipped %d, failed %d\n", report.Uploaded, report.Skipped, report.Failed)
package stagesync
