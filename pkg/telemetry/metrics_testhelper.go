package telemetry

import "sync"

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. This is intended for
// use in test code only.
func ResetMetricsForTest() {
	resetInstruments()
}

func resetInstruments() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	requestCounter = nil
	throttledCounter = nil
	requestChargeCounter = nil
	requestChargeHist = nil
	collectionSizeGauge = nil
}
