package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the work the archive coordinator performs.
type Metrics struct {
	SegmentsWritten    prometheus.Counter
	EventsPruned       prometheus.Counter
	EventsPreserved    prometheus.Counter
	StreamsHardDeleted prometheus.Counter
	OverlapSkips       prometheus.Counter
	StreamErrors       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SegmentsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_segments_written_total",
			Help: "Segment files written and recorded in the catalog",
		}),
		EventsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_events_pruned_total",
			Help: "Hot events deleted after archival",
		}),
		EventsPreserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_events_preserved_total",
			Help: "Events archived with their hot copies kept",
		}),
		StreamsHardDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_streams_hard_deleted_total",
			Help: "Streams permanently removed by the coordinator",
		}),
		OverlapSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_overlap_skips_total",
			Help: "Per-stream archival attempts skipped on segment overlap",
		}),
		StreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_archive_stream_errors_total",
			Help: "Per-stream archival failures that were logged and skipped",
		}),
	}
}
