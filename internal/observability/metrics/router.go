package metrics

import "time"

// Classification outcomes reported by ObserveClassification.
const (
	ClassificationParsed      = "parsed"
	ClassificationFallback    = "fallback"
	ClassificationUnavailable = "unavailable"
)

var (
	tasksTotal = newCounterVec("tasks_total",
		"Tasks finished by category and terminal state.", "category", "state")
	classifications = newCounterVec("classifications_total",
		"Classifier calls by purpose and how their output was used.", "purpose", "outcome")
	dispatchTotal = newCounterVec("dispatch_total",
		"Cross-service dispatch attempts by target agent and outcome.", "target", "outcome")
	dispatchLatency = newHistogramVec("dispatch_duration_seconds",
		"Time from dispatch to end of the relayed stream.", "target")
	relayEvents = newCounterVec("relay_events_total",
		"Downstream events relayed to callers.")
	relayMalformed = newCounterVec("relay_malformed_total",
		"Downstream records dropped as malformed.")
	relayMissingFinal = newCounterVec("relay_missing_final_total",
		"Downstream streams that ended without a final event.")
	registrations = newCounterVec("agent_registrations_total",
		"Dynamic agent registrations by outcome.", "outcome")
)

// ObserveTask records a finished task by classified category and terminal state.
func ObserveTask(category, state string) {
	tasksTotal.inc(category, state)
}

// ObserveClassification records one classifier call. outcome is one of the
// Classification* constants.
func ObserveClassification(purpose, outcome string) {
	classifications.inc(purpose, outcome)
}

// ObserveDispatch records one cross-service dispatch attempt.
func ObserveDispatch(target string, ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "unavailable"
	}
	dispatchTotal.inc(target, outcome)
	dispatchLatency.observe(duration.Seconds(), target)
}

// ObserveRelay records the outcome of relaying one downstream stream.
func ObserveRelay(events, malformed int, sawFinal bool) {
	if events > 0 {
		relayEvents.add(uint64(events))
	}
	if malformed > 0 {
		relayMalformed.add(uint64(malformed))
	}
	if !sawFinal {
		relayMissingFinal.inc()
	}
}

// ObserveRegistration records a dynamic registration attempt; ok is false when
// the request was rejected or the catalog write failed.
func ObserveRegistration(ok bool) {
	if ok {
		registrations.inc("registered")
		return
	}
	registrations.inc("rejected")
}
