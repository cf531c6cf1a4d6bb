package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	NotesPosted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "confessio_notes_posted_total", Help: "Notes accepted and broadcast"},
	)
	NotesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confessio_notes_rejected_total", Help: "Notes silently dropped by validation"},
		[]string{"reason"},
	)
	Broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "confessio_broadcasts_total", Help: "Snapshot broadcasts fanned out to rooms"},
	)
	SweepEvictedBoards = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "confessio_sweep_boards_evicted_total", Help: "Boards evicted wholesale by the retention sweep"},
	)
	StreamConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "confessio_stream_connections", Help: "Live board stream connections"},
	)
)

func MustRegister() {
	prometheus.MustRegister(NotesPosted, NotesRejected, Broadcasts, SweepEvictedBoards, StreamConnections)
}
