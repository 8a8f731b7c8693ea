// Package metrics exposes the handful of process-wide counters the
// bulk-transfer path records: bytes moved in each direction and the
// count of completed transfers. Grounded on the teacher's use of
// rcrowley/go-metrics for exactly this kind of lightweight, in-process
// accounting (no external exporter wiring, per spec.md's Non-goals around
// observability surfaces).
package metrics

import "github.com/rcrowley/go-metrics"

var (
	BytesUploaded   = metrics.NewRegisteredMeter("dcshare.bytes.uploaded", metrics.DefaultRegistry)
	BytesDownloaded = metrics.NewRegisteredMeter("dcshare.bytes.downloaded", metrics.DefaultRegistry)
	TransfersDone   = metrics.NewRegisteredCounter("dcshare.transfers.completed", metrics.DefaultRegistry)
	TransfersFailed = metrics.NewRegisteredCounter("dcshare.transfers.failed", metrics.DefaultRegistry)
)

// Snapshot is a point-in-time read of the counters, useful for a status
// command or a debug log line.
type Snapshot struct {
	BytesUploaded   int64
	BytesDownloaded int64
	TransfersDone   int64
	TransfersFailed int64
}

// Read takes a Snapshot of the current counter values.
func Read() Snapshot {
	return Snapshot{
		BytesUploaded:   BytesUploaded.Count(),
		BytesDownloaded: BytesDownloaded.Count(),
		TransfersDone:   TransfersDone.Count(),
		TransfersFailed: TransfersFailed.Count(),
	}
}
