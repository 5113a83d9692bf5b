package metrics

import "time"

// DriverCeiling records the current concurrency ceiling.
func DriverCeiling(ceiling int64) {
	if !enabled {
		return
	}
	driverCeiling.Set(float64(ceiling))
}

// DriverActive records the number of in-flight tasks.
func DriverActive(active int64) {
	if !enabled {
		return
	}
	driverActive.Set(float64(active))
}

// DriverBatch records a candidate batch fetch.
func DriverBatch(status string) {
	if !enabled {
		return
	}
	driverBatchTotal.WithLabelValues(status).Inc()
}

// VerificationRequest records a verification attempt and how long it took.
func VerificationRequest(result string, d time.Duration) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(result).Inc()
	verificationDuration.Observe(d.Seconds())
}
