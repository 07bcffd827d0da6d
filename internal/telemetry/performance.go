package telemetry

import (
	"strconv"
	"time"
)

// RecordTaskMetrics records one task fanned out over nodeCount hosts.
func RecordTaskMetrics(taskName string, nodeCount int, duration time.Duration, successful, failed int) {
	c := GetGlobal()
	labels := map[string]string{"task": taskName}

	c.Time("chaindeploy_task_duration", duration, labels)
	c.Set("chaindeploy_task_nodes", float64(nodeCount), labels)
	c.Add("chaindeploy_task_hosts_done", float64(successful), labels)
	c.Add("chaindeploy_task_hosts_failed", float64(failed), labels)
	if total := successful + failed; total > 0 {
		c.Set("chaindeploy_task_success_rate", float64(successful)/float64(total)*100, labels)
	}
}

// RecordTransferMetrics records an image archive upload.
func RecordTransferMetrics(host string, size int64, duration time.Duration, success bool) {
	c := GetGlobal()
	labels := map[string]string{"host": host, "success": strconv.FormatBool(success)}

	c.Time("chaindeploy_transfer_duration", duration, labels)
	c.Observe("chaindeploy_transfer_bytes", "By", float64(size), labels)
	if success && duration > 0 {
		c.Set("chaindeploy_transfer_bytes_per_second", float64(size)/duration.Seconds(), labels)
	}
}

// TimerScope times a block of work into a histogram.
type TimerScope struct {
	start     time.Time
	name      string
	labels    map[string]string
	collector *Collector
}

func NewTimerScope(name string, labels map[string]string) *TimerScope {
	return &TimerScope{start: time.Now(), name: name, labels: labels, collector: GetGlobal()}
}

// End records the elapsed time and returns it.
func (ts *TimerScope) End() time.Duration {
	d := time.Since(ts.start)
	ts.collector.Time(ts.name, d, ts.labels)
	return d
}
