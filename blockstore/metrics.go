package blockstore

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the counter/histogram set named in §6. It is constructed
// once and passed into NewDB explicitly — a process-wide metrics
// registry is a dependency like any other, not a package global (§9).
type Metrics struct {
	NumShreds                   prometheus.Counter
	NumInserted                 prometheus.Counter
	NumRepair                   prometheus.Counter
	NumRecovered                prometheus.Counter
	NumRecoveredFailedSig       prometheus.Counter
	NumRecoveredFailedInvalid   prometheus.Counter
	NumCodeShredsExists         prometheus.Counter
	NumCodeShredsInvalid        prometheus.Counter
	NumCodeShredsInvalidErasure prometheus.Counter
	NumDataShredsInvalid        prometheus.Counter

	InsertLockElapsedUs        prometheus.Histogram
	InsertShredsElapsedUs      prometheus.Histogram
	ShredRecoveryElapsedUs     prometheus.Histogram
	ChainingElapsedUs          prometheus.Histogram
	CommitWorkingSetsElapsedUs prometheus.Histogram
	WriteBatchElapsedUs        prometheus.Histogram
	TotalElapsedUs             prometheus.Histogram
	IndexMetaTimeUs            prometheus.Histogram
}

// NewMetrics registers the shred inserter's counters and histograms on
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with a
// process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shred_inserter",
			Name:      name,
		})
		reg.MustRegister(c)
		return c
	}
	histogram := func(name string) prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shred_inserter",
			Name:      name,
			Buckets:   prometheus.ExponentialBuckets(10, 2, 16),
		})
		reg.MustRegister(h)
		return h
	}

	return &Metrics{
		NumShreds:                   counter("num_shreds"),
		NumInserted:                 counter("num_inserted"),
		NumRepair:                   counter("num_repair"),
		NumRecovered:                counter("num_recovered"),
		NumRecoveredFailedSig:       counter("num_recovered_failed_sig"),
		NumRecoveredFailedInvalid:   counter("num_recovered_failed_invalid"),
		NumCodeShredsExists:         counter("num_code_shreds_exists"),
		NumCodeShredsInvalid:        counter("num_code_shreds_invalid"),
		NumCodeShredsInvalidErasure: counter("num_code_shreds_invalid_erasure_config"),
		NumDataShredsInvalid:        counter("num_data_shreds_invalid"),

		InsertLockElapsedUs:        histogram("insert_lock_elapsed_us"),
		InsertShredsElapsedUs:      histogram("insert_shreds_elapsed_us"),
		ShredRecoveryElapsedUs:     histogram("shred_recovery_elapsed_us"),
		ChainingElapsedUs:          histogram("chaining_elapsed_us"),
		CommitWorkingSetsElapsedUs: histogram("commit_working_sets_elapsed_us"),
		WriteBatchElapsedUs:        histogram("write_batch_elapsed_us"),
		TotalElapsedUs:             histogram("total_elapsed_us"),
		IndexMetaTimeUs:            histogram("index_meta_time_us"),
	}
}
