package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvent(reason, message, last string, count int32) RawEvent {
	e := RawEvent{Reason: reason, Message: message, Count: count}
	e.LastTimestamp = last
	e.FirstTimestamp = last
	return e
}

func TestClassify_KnownReasons(t *testing.T) {
	tests := []struct {
		reason string
		kind   EventKind
		phase  EventPhase
	}{
		{"FailedScheduling", KindScheduling, PhaseFailure},
		{"Unschedulable", KindScheduling, PhaseFailure},
		{"FailedMount", KindVolume, PhaseFailure},
		{"ProvisioningFailed", KindVolume, PhaseFailure},
		{"Failed", KindImage, PhaseFailure},
		{"ErrImagePull", KindImage, PhaseFailure},
		{"ImagePullBackOff", KindImage, PhaseFailure},
		{"BackOff", KindLifecycle, PhaseFailure},
		{"OOMKilled", KindLifecycle, PhaseFailure},
		{"Unhealthy", KindProbe, PhaseFailure},
		{"FailedCreatePodSandBox", KindNetwork, PhaseFailure},
		{"Evicted", KindNodePressure, PhaseFailure},
		{"NodeNotReady", KindNodePressure, PhaseFailure},
		{"FailedCreate", KindOwner, PhaseFailure},
		{"Scheduled", KindScheduling, PhaseInfo},
		{"Pulled", KindImage, PhaseInfo},
	}
	for _, tc := range tests {
		kind, phase := Classify(tc.reason)
		assert.Equal(t, tc.kind, kind, "kind for %s", tc.reason)
		assert.Equal(t, tc.phase, phase, "phase for %s", tc.reason)
	}
}

func TestClassify_UnknownReasonIsGenericWarning(t *testing.T) {
	kind, phase := Classify("SomethingNovel")
	assert.Equal(t, KindGeneric, kind)
	assert.Equal(t, PhaseWarning, phase)
}

func TestBuild_OrderingByLastSeen(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("BackOff", "", "2024-05-01T10:05:00Z", 1),
		rawEvent("FailedScheduling", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("Pulled", "", "2024-05-01T10:02:00Z", 1),
	})
	events := tl.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "FailedScheduling", events[0].Reason)
	assert.Equal(t, "Pulled", events[1].Reason)
	assert.Equal(t, "BackOff", events[2].Reason)
}

func TestBuild_MissingTimestampsKeepInputOrder(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("First", "", "", 1),
		rawEvent("Second", "", "", 1),
		rawEvent("Third", "", "", 1),
	})
	events := tl.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "First", events[0].Reason)
	assert.Equal(t, "Second", events[1].Reason)
	assert.Equal(t, "Third", events[2].Reason)
	for _, e := range events {
		assert.Zero(t, e.FirstSeen)
		assert.Zero(t, e.LastSeen)
	}
}

func TestHasCountFirstLast(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("BackOff", "first", "2024-05-01T10:00:00Z", 1),
		rawEvent("BackOff", "second", "2024-05-01T10:05:00Z", 3),
		rawEvent("Unhealthy", "probe", "2024-05-01T10:06:00Z", 1),
	})

	assert.True(t, tl.Has(Filter{Reason: "BackOff"}))
	assert.True(t, tl.Has(Filter{Kind: KindLifecycle, Phase: PhaseFailure}))
	assert.False(t, tl.Has(Filter{Reason: "Evicted"}))

	// Count aggregates the event count field, not record count.
	assert.Equal(t, 4, tl.Count(Filter{Reason: "BackOff"}))

	first := tl.First(Filter{Reason: "BackOff"})
	require.NotNil(t, first)
	assert.Equal(t, "first", first.Message)

	last := tl.Last(Filter{Reason: "BackOff"})
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Message)
}

func TestDurationBetween(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("PersistentVolumeClaimPending", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:03:00Z", 1),
	})
	dur, ok := tl.DurationBetween(Filter{Reason: "PersistentVolumeClaimPending"}, Filter{Reason: "BackOff"})
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, dur)

	_, ok = tl.DurationBetween(Filter{Reason: "Missing"}, Filter{Reason: "BackOff"})
	assert.False(t, ok)
}

func TestRepeated_CountOnly(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("BackOff", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:20:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:40:00Z", 1),
	})
	assert.True(t, tl.Repeated("BackOff", 3, 0))
	assert.False(t, tl.Repeated("BackOff", 4, 0))
}

func TestRepeated_WithinWindow(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("BackOff", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:02:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:30:00Z", 1),
	})
	// Two inside any 5-minute window, never three.
	assert.True(t, tl.Repeated("BackOff", 2, 5*time.Minute))
	assert.False(t, tl.Repeated("BackOff", 3, 5*time.Minute))
	assert.True(t, tl.Repeated("BackOff", 3, time.Hour))
}

func TestRepeated_MissingTimestampIgnoresWindow(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("BackOff", "", "", 1),
		rawEvent("BackOff", "", "", 1),
		rawEvent("BackOff", "", "", 1),
	})
	// Conservative fallback: count only, window ignored.
	assert.True(t, tl.Repeated("BackOff", 3, time.Minute))
}

func TestPattern_InOrderNotContiguous(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("PersistentVolumeClaimPending", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("Scheduled", "", "2024-05-01T10:01:00Z", 1),
		rawEvent("PersistentVolumeClaimBound", "", "2024-05-01T10:02:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:03:00Z", 1),
	})
	assert.True(t, tl.Pattern(
		Reason("PersistentVolumeClaimPending"),
		Reason("PersistentVolumeClaimBound"),
		Reason("BackOff"),
	))
	assert.False(t, tl.Pattern(
		Reason("BackOff"),
		Reason("PersistentVolumeClaimPending"),
	))
}

func TestParseTimestamp_LenientFallback(t *testing.T) {
	// RFC3339 parses on the fast path.
	assert.NotZero(t, parseTimestamp("2024-05-01T10:00:00Z"))
	// Legacy snapshots carry non-RFC3339 stamps.
	assert.NotZero(t, parseTimestamp("2024-05-01 10:00:00"))
	// Empty and null stamps resolve to zero.
	assert.Zero(t, parseTimestamp(""))
	assert.Zero(t, parseTimestamp("null"))
}

func TestTemporalPrimitives(t *testing.T) {
	tl := Build([]RawEvent{
		rawEvent("Pulled", "", "2024-05-01T10:00:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:02:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:04:00Z", 1),
		rawEvent("BackOff", "", "2024-05-01T10:06:00Z", 1),
	})
	assert.True(t, tl.RapidRestartEscalation())
	assert.True(t, tl.ImageUpdatedThenCrashloop())
	assert.False(t, tl.SchedulingFlapping())
	assert.False(t, tl.RepeatedProbeFailure())
}
