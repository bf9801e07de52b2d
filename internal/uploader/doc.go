// Package uploader stages classified files on a remote Stage.
//
// Each upload opens the local file through the fs.Filesystem, sniffs its
// content type and streams it unmodified to a partition-scoped remote
// location. Transient failures are retried with capped exponential backoff;
// permanent failures end the upload immediately.
package uploader
