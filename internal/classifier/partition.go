package classifier

import (
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// ParsePartitionKey extracts key=value directory segments from a slash
// separated path relative to the scan root. The final segment is the file
// name and is never treated as a partition. Order is top-down.
func ParsePartitionKey(relPath string) stagetypes.PartitionKey {
	segs := strings.Split(relPath, "/")
	if len(segs) < 2 {
		return nil
	}

	var pk stagetypes.PartitionKey
	for _, seg := range segs[:len(segs)-1] {
		if strings.Count(seg, "=") != 1 {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		if k == "" || v == "" {
			continue
		}
		pk = append(pk, stagetypes.Partition{Key: k, Value: v})
	}
	return pk
}
