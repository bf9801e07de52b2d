package uploader

import (
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// RemoteLocation returns prefix/<partition>/<filename> for record. Empty
// segments are dropped, so a record without partitions lands directly under
// prefix.
func RemoteLocation(prefix string, record stagetypes.FileRecord) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if pk := record.PartitionKey.Render(); pk != "" {
		parts = append(parts, pk)
	}
	parts = append(parts, record.Name())
	return strings.Join(parts, "/")
}
