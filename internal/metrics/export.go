package metrics

import "time"

// Dot-import surface. Callers record and move on; nothing here returns an
// error or blocks.

// MetricDuration records one elapsed time under topic/op.
func MetricDuration(topic, op string, d time.Duration) {
	Default().RecordDuration(topic, op, d)
}

// MetricStartAuto starts a timer named after the calling function. Use as
// defer MetricStartAuto("browser")().
func MetricStartAuto(topic string) func() {
	return Default().Timer(topic, callerOp())
}

// MetricHit counts a cache hit.
func MetricHit(topic, op string) {
	Default().RecordHit(topic, op)
}

// MetricMiss counts a cache miss.
func MetricMiss(topic, op string) {
	Default().RecordMiss(topic, op)
}

// MetricInc bumps a counter.
func MetricInc(topic, op string) {
	Default().Increment(topic, op)
}

// MetricSuccess counts a successful operation.
func MetricSuccess(topic, op string) {
	Default().RecordSuccess(topic, op)
}

// MetricFail counts a failed operation.
func MetricFail(topic, op string) {
	Default().RecordFailure(topic, op, "")
}

// MetricFailWithReason counts a failed operation and tallies the reason.
func MetricFailWithReason(topic, op, reason string) {
	Default().RecordFailure(topic, op, reason)
}
