package timeline

import "time"

// Compound temporal detection primitives. These are the building blocks
// compound rules share; keeping them here means the correlation windows
// live in one place.

const (
	// RestartEscalationWindow bounds rapid restart detection.
	RestartEscalationWindow = 10 * time.Minute
	// RestartEscalationMinCount is the minimum BackOff occurrences inside
	// the window.
	RestartEscalationMinCount = 3

	// ProbeFailureWindow bounds sustained probe failure detection.
	ProbeFailureWindow = 5 * time.Minute
	// ProbeFailureMinCount is the minimum Unhealthy occurrences inside
	// the window.
	ProbeFailureMinCount = 3

	// FlappingWindow bounds scheduling flap detection.
	FlappingWindow = 5 * time.Minute

	// CorrelationWindow is the generic change → crash correlation window.
	CorrelationWindow = 5 * time.Minute
)

// RapidRestartEscalation reports repeated BackOff events inside the
// escalation window.
func (t *Timeline) RapidRestartEscalation() bool {
	return t.Repeated("BackOff", RestartEscalationMinCount, RestartEscalationWindow)
}

// RepeatedProbeFailure reports sustained Unhealthy probe events inside the
// probe window.
func (t *Timeline) RepeatedProbeFailure() bool {
	return t.Repeated("Unhealthy", ProbeFailureMinCount, ProbeFailureWindow)
}

// SchedulingFlapping reports a mix of Scheduled and FailedScheduling
// events close together: the pod oscillates between placement and
// rejection.
func (t *Timeline) SchedulingFlapping() bool {
	scheduled := t.First(Filter{Reason: "Scheduled"})
	failed := t.First(Filter{Reason: "FailedScheduling"})
	if scheduled == nil || failed == nil {
		return false
	}
	if scheduled.LastSeen == 0 || failed.LastSeen == 0 {
		// No timestamps: both signals present is the conservative match.
		return true
	}
	delta := scheduled.LastSeen - failed.LastSeen
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(FlappingWindow/time.Second)
}

// PVCPendingDuration returns how long the claim has been pending according
// to the event record: interval from the first pending-class volume signal
// to the latest event overall. Returns false without a volume signal.
func (t *Timeline) PVCPendingDuration() (time.Duration, bool) {
	pending := t.First(Filter{Kind: KindVolume, Phase: PhaseWarning})
	if pending == nil {
		pending = t.First(Filter{Kind: KindVolume, Phase: PhaseFailure})
	}
	if pending == nil || pending.FirstSeen == 0 || len(t.events) == 0 {
		return 0, false
	}
	latest := t.events[len(t.events)-1].LastSeen
	if latest == 0 || latest < pending.FirstSeen {
		return 0, false
	}
	return time.Duration(latest-pending.FirstSeen) * time.Second, true
}

// followedWithin reports a first-A-then-B sequence with B no more than
// window after A. Without timestamps the ordered presence of both is
// enough.
func (t *Timeline) followedWithin(a, b Filter, window time.Duration) bool {
	first := t.First(a)
	if first == nil {
		return false
	}
	for _, e := range t.events {
		if !b.matches(e) {
			continue
		}
		if first.LastSeen == 0 || e.LastSeen == 0 {
			return true
		}
		if e.LastSeen >= first.LastSeen && e.LastSeen-first.LastSeen <= int64(window/time.Second) {
			return true
		}
	}
	return false
}

// ImageUpdatedThenCrashloop reports an image pull completing and the
// container entering backoff shortly after.
func (t *Timeline) ImageUpdatedThenCrashloop() bool {
	return t.followedWithin(Filter{Reason: "Pulled"}, Filter{Reason: "BackOff"}, CorrelationWindow) ||
		t.followedWithin(Filter{Reason: "Pulled"}, Filter{Reason: "CrashLoopBackOff"}, CorrelationWindow)
}

// CrashloopAfterConfigChange reports a sandbox/config change signal with
// the container entering backoff shortly after.
func (t *Timeline) CrashloopAfterConfigChange() bool {
	return t.followedWithin(Filter{Reason: "SandboxChanged"}, Filter{Reason: "BackOff"}, CorrelationWindow) ||
		t.followedWithin(Filter{Reason: "Killing"}, Filter{Reason: "BackOff"}, CorrelationWindow)
}
