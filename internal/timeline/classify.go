package timeline

// EventKind is the semantic class of a normalized event.
type EventKind string

const (
	KindScheduling   EventKind = "Scheduling"
	KindImage        EventKind = "Image"
	KindVolume       EventKind = "Volume"
	KindProbe        EventKind = "Probe"
	KindNetwork      EventKind = "Network"
	KindAdmission    EventKind = "Admission"
	KindLifecycle    EventKind = "Lifecycle"
	KindNodePressure EventKind = "NodePressure"
	KindOwner        EventKind = "Owner"
	KindGeneric      EventKind = "Generic"
)

// EventPhase is the severity class of a normalized event.
type EventPhase string

const (
	PhaseFailure EventPhase = "Failure"
	PhaseWarning EventPhase = "Warning"
	PhaseInfo    EventPhase = "Info"
)

type classification struct {
	kind  EventKind
	phase EventPhase
}

// reasonTable is the fixed reason → (kind, phase) mapping. It is part of
// the system contract: renderers and rules rely on these classifications.
// Unknown reasons fall back to Generic/Warning with the literal reason
// preserved on the event.
var reasonTable = map[string]classification{
	// Scheduling
	"FailedScheduling":  {KindScheduling, PhaseFailure},
	"Unschedulable":     {KindScheduling, PhaseFailure},
	"Preempted":         {KindScheduling, PhaseFailure},
	"Scheduled":         {KindScheduling, PhaseInfo},
	"TriggeredScaleUp":  {KindScheduling, PhaseInfo},
	"NotTriggerScaleUp": {KindScheduling, PhaseWarning},

	// Image
	"Failed":           {KindImage, PhaseFailure},
	"ErrImagePull":     {KindImage, PhaseFailure},
	"ImagePullBackOff": {KindImage, PhaseFailure},
	"InspectFailed":    {KindImage, PhaseFailure},
	"Pulling":          {KindImage, PhaseInfo},
	"Pulled":           {KindImage, PhaseInfo},

	// Volume
	"FailedMount":                 {KindVolume, PhaseFailure},
	"FailedAttachVolume":          {KindVolume, PhaseFailure},
	"FailedBinding":               {KindVolume, PhaseFailure},
	"ProvisioningFailed":          {KindVolume, PhaseFailure},
	"VolumeFailedDelete":          {KindVolume, PhaseFailure},
	"Provisioning":                {KindVolume, PhaseInfo},
	"ProvisioningSucceeded":       {KindVolume, PhaseInfo},
	"SuccessfulAttachVolume":      {KindVolume, PhaseInfo},
	"WaitForFirstConsumer":        {KindVolume, PhaseInfo},
	"ExternalProvisioning":        {KindVolume, PhaseInfo},
	"PersistentVolumeClaimPending": {KindVolume, PhaseWarning},
	"PersistentVolumeClaimBound":   {KindVolume, PhaseInfo},

	// Probe
	"Unhealthy":    {KindProbe, PhaseFailure},
	"ProbeWarning": {KindProbe, PhaseWarning},

	// Network
	"FailedCreatePodSandBox": {KindNetwork, PhaseFailure},
	"NetworkNotReady":        {KindNetwork, PhaseFailure},
	"DNSConfigForming":       {KindNetwork, PhaseWarning},

	// Admission
	"ExceededQuota":    {KindAdmission, PhaseFailure},
	"FailedValidation": {KindAdmission, PhaseFailure},
	"PolicyViolation":  {KindAdmission, PhaseFailure},

	// Lifecycle
	"BackOff":                    {KindLifecycle, PhaseFailure},
	"CrashLoopBackOff":           {KindLifecycle, PhaseFailure},
	"OOMKilled":                  {KindLifecycle, PhaseFailure},
	"FailedKillPod":              {KindLifecycle, PhaseFailure},
	"FailedPostStartHook":        {KindLifecycle, PhaseFailure},
	"FailedPreStopHook":          {KindLifecycle, PhaseFailure},
	"CreateContainerConfigError": {KindLifecycle, PhaseFailure},
	"CreateContainerError":       {KindLifecycle, PhaseFailure},
	"SandboxChanged":             {KindLifecycle, PhaseWarning},
	"Killing":                    {KindLifecycle, PhaseInfo},
	"Created":                    {KindLifecycle, PhaseInfo},
	"Started":                    {KindLifecycle, PhaseInfo},
	"Completed":                  {KindLifecycle, PhaseInfo},

	// Node pressure
	"Evicted":             {KindNodePressure, PhaseFailure},
	"NodeNotReady":        {KindNodePressure, PhaseFailure},
	"NodeHasDiskPressure": {KindNodePressure, PhaseWarning},
	"EvictionThresholdMet": {KindNodePressure, PhaseWarning},
	"NodeNotSchedulable":  {KindNodePressure, PhaseWarning},

	// Owner controllers
	"FailedCreate":      {KindOwner, PhaseFailure},
	"FailedDelete":      {KindOwner, PhaseFailure},
	"SuccessfulCreate":  {KindOwner, PhaseInfo},
	"SuccessfulDelete":  {KindOwner, PhaseInfo},
	"ScalingReplicaSet": {KindOwner, PhaseInfo},
}

// Classify maps a raw Kubernetes event reason onto its semantic kind and
// phase. The raw reason string itself is always preserved on the event.
func Classify(reason string) (EventKind, EventPhase) {
	if c, ok := reasonTable[reason]; ok {
		return c.kind, c.phase
	}
	return KindGeneric, PhaseWarning
}
