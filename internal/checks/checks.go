// Package checks maps root-cause kinds onto ordered operator remediation
// checks. The mapping is static; the only dynamic value ever interpolated
// is the involved object's name.
package checks

import (
	"strings"
)

// checkTable maps a cause kind to its ordered checks. %s, where present,
// is replaced with the involved object's name.
var checkTable = map[string][]string{
	"FailedScheduling": {
		"kubectl describe pod %s",
		"kubectl get nodes -o wide",
		"kubectl get events --field-selector reason=FailedScheduling",
	},
	"UnschedulableTaint": {
		"kubectl describe pod %s",
		"kubectl describe nodes | grep -A3 Taints",
		"Verify pod tolerations match node taints",
	},
	"InsufficientResources": {
		"kubectl describe pod %s",
		"kubectl describe nodes | grep -A5 Allocatable",
		"Reduce pod resource requests or scale the cluster",
	},
	"NodeSelectorMismatch": {
		"kubectl describe pod %s",
		"kubectl get nodes --show-labels",
		"Adjust pod nodeSelector or label a node to match",
	},
	"AffinityUnsatisfiable": {
		"kubectl describe pod %s",
		"Review pod.spec.affinity against cluster node labels",
		"Check pods blocking anti-affinity rules",
	},
	"TopologySpreadUnsatisfiable": {
		"kubectl describe pod %s",
		"Review pod.spec.topologySpreadConstraints and node topology labels",
	},
	"HostPortConflict": {
		"kubectl describe pod %s",
		"Find pods using the same hostPort",
		"Inspect node port allocations",
	},
	"PreemptedByHigherPriority": {
		"kubectl describe pod %s",
		"kubectl get priorityclasses",
		"Review node capacity and resource pressure",
	},
	"ImagePullError": {
		"kubectl describe pod %s",
		"Verify image name and tag exist in the registry",
		"Check imagePullSecrets",
	},
	"ImagePullBackOff": {
		"kubectl describe pod %s",
		"Verify image name and tag exist in the registry",
		"Check imagePullSecrets and registry availability",
	},
	"ImagePullSecretMissing": {
		"kubectl get secrets",
		"kubectl describe pod %s",
		"Verify imagePullSecrets reference a docker-registry secret in this namespace",
	},
	"ImagePullSecretMissingCompound": {
		"kubectl describe pod %s",
		"Add imagePullSecrets to the pod spec or service account",
		"kubectl create secret docker-registry for the registry",
	},
	"RegistryUnreachable": {
		"Check registry endpoint reachability from cluster nodes",
		"Review egress network policies",
	},
	"CrashLoopBackoff": {
		"kubectl logs %s --previous",
		"kubectl describe pod %s",
	},
	"RepeatedCrashLoop": {
		"kubectl logs %s --previous",
		"kubectl describe pod %s",
		"Review recent deploys and configuration changes",
	},
	"OOMKilled": {
		"kubectl describe pod %s",
		"kubectl logs %s --previous",
		"Review container memory limits and actual usage",
	},
	"CrashLoopOOMKilled": {
		"kubectl describe pod %s",
		"Raise the container memory limit or fix the leak",
		"Review memory usage metrics before each restart",
	},
	"ContainerCreateConfigError": {
		"kubectl describe pod %s",
		"Verify referenced ConfigMaps and Secrets exist",
	},
	"InvalidEntrypoint": {
		"kubectl describe pod %s",
		"Verify the container command and image entrypoint",
	},
	"InitContainerFailure": {
		"kubectl logs %s -c <init-container> --previous",
		"kubectl describe pod %s",
	},
	"InitContainerBlocksMain": {
		"kubectl logs %s -c <init-container> --previous",
		"kubectl describe pod %s",
		"Fix the init container; main containers start after it succeeds",
	},
	"StartupProbeFailure": {
		"kubectl describe pod %s",
		"Review startupProbe configuration and application boot time",
	},
	"ReadinessProbeFailure": {
		"kubectl describe pod %s",
		"Review readinessProbe endpoint and timeouts",
	},
	"LivenessProbeFailure": {
		"kubectl describe pod %s",
		"Review livenessProbe endpoint; restarts stop once it passes",
	},
	"RepeatedProbeFailureEscalation": {
		"kubectl describe pod %s",
		"Review probe thresholds against actual response times",
		"Check application health under load",
	},
	"PVCNotBound": {
		"kubectl describe pvc %s",
		"kubectl get pv",
		"kubectl get storageclass",
	},
	"FailedMount": {
		"kubectl describe pod %s",
		"kubectl get pvc",
		"Check storage backend availability",
	},
	"PVCMountFailed": {
		"kubectl describe pvc %s",
		"kubectl describe pod",
		"kubectl describe node",
	},
	"StorageClassProvisionerMissing": {
		"kubectl get storageclass -o yaml",
		"Verify the provisioner deployment is running",
	},
	"PVReleasedOrFailed": {
		"kubectl describe pv %s",
		"Delete or recycle the released volume, or recreate the claim",
	},
	"ConfigMapNotFound": {
		"kubectl get configmaps",
		"kubectl describe pod %s",
	},
	"ProvisioningFailed": {
		"kubectl describe pvc %s",
		"Check the storage provisioner logs",
	},
	"PVCPendingThenCrashloop": {
		"kubectl describe pvc %s",
		"kubectl get pv",
		"Fix provisioning; the crash loop follows from the missing volume",
	},
	"PVCThenCrashloop": {
		"kubectl describe pvc %s",
		"kubectl logs <pod> --previous",
	},
	"PVCBoundThenCrashLoop": {
		"kubectl logs <pod> --previous",
		"Verify the application recovered after the volume bound",
	},
	"PVCRecoveredButAppStillFailing": {
		"kubectl logs <pod> --previous",
		"Storage is healthy; debug the application itself",
	},
	"PVCPendingTooLong": {
		"kubectl describe pvc %s",
		"Check provisioner health and quota",
	},
	"DynamicProvisioningTimeout": {
		"kubectl describe pvc %s",
		"Check the CSI driver / provisioner logs",
		"kubectl get storageclass",
	},
	"PVCBoundNodeDiskPressureMount": {
		"kubectl describe node %s",
		"Free disk on the node; mounts resume when pressure clears",
		"kubectl describe pvc",
	},
	"PVCBoundThenNodePressure": {
		"kubectl describe node %s",
		"Resolve the node pressure condition",
	},
	"VolumeNodeAffinityConflict": {
		"kubectl describe pv",
		"Compare volume nodeAffinity with schedulable nodes",
	},
	"Evicted": {
		"kubectl describe pod %s",
		"kubectl describe node",
		"Check node conditions (MemoryPressure, DiskPressure)",
	},
	"EphemeralStorageEvicted": {
		"kubectl describe pod %s",
		"Raise ephemeral-storage requests or reduce scratch usage",
	},
	"NodeDiskPressure": {
		"kubectl describe node %s",
		"Check node disk usage; prune images and logs",
	},
	"NodeMemoryPressure": {
		"kubectl describe node %s",
		"Check node memory usage (free -m)",
		"Inspect container memory limits and requests",
	},
	"NodePIDPressure": {
		"kubectl describe node %s",
		"Check process count on the node",
		"Inspect kubelet logs for PID pressure warnings",
	},
	"NodeNotReady": {
		"kubectl describe node %s",
		"Check kubelet health on the node",
	},
	"NodeNotReadyEvicted": {
		"kubectl describe node %s",
		"kubectl describe pod",
		"Check node conditions; pod reschedules once the node recovers",
	},
	"CNIPluginFailure": {
		"kubectl describe pod %s",
		"Check CNI plugin pods in kube-system",
		"Inspect kubelet and container runtime logs on the node",
	},
	"DNSResolutionFailure": {
		"kubectl describe pod %s",
		"Check CoreDNS pods and service",
		"Verify pod dnsPolicy and dnsConfig",
	},
	"AdmissionWebhookDenied": {
		"kubectl get validatingwebhookconfigurations",
		"kubectl describe pod %s",
		"Review the webhook's denial message",
	},
	"ResourceQuotaExceeded": {
		"kubectl describe quota",
		"Reduce requests or raise the namespace quota",
	},
	"LimitRangeViolation": {
		"kubectl describe limitrange",
		"Adjust container requests/limits to fit the LimitRange",
	},
	"RBACForbidden": {
		"kubectl auth can-i --list --as=system:serviceaccount:<ns>:<sa>",
		"Review Role/RoleBinding for the service account",
	},
	"PrivilegedNotAllowed": {
		"Review pod securityContext.privileged",
		"Check namespace Pod Security admission level",
	},
	"SecurityContextViolation": {
		"kubectl describe pod %s",
		"Align pod securityContext with the namespace PodSecurity level",
	},
	"ServiceAccountMissing": {
		"kubectl get serviceaccounts",
		"Create the missing service account or fix pod.spec.serviceAccountName",
	},
	"ServiceAccountRBACCompound": {
		"kubectl auth can-i --list --as=system:serviceaccount:<ns>:%s",
		"Bind the required Role to the service account",
	},
	"FailedCreate": {
		"kubectl describe %s",
		"kubectl get events --field-selector reason=FailedCreate",
	},
	"ReplicaSetCreateFailure": {
		"kubectl describe rs %s",
		"Review the ReplicaFailure condition message",
	},
	"ReplicaSetUnavailable": {
		"kubectl describe rs %s",
		"kubectl get pods -l <selector>",
	},
	"DeploymentProgressDeadlineExceeded": {
		"kubectl rollout status deployment %s",
		"kubectl describe deployment %s",
	},
	"StatefulSetUpdateBlocked": {
		"kubectl describe sts %s",
		"Lower or remove spec.updateStrategy.rollingUpdate.partition",
	},
	"OwnerBlockedPod": {
		"kubectl rollout status deployment %s",
		"kubectl describe rs",
		"Fix the stalled rollout; pods recover with it",
	},
	"PendingUnschedulable": {
		"kubectl describe pod %s",
		"kubectl get nodes -o wide",
	},
	"SchedulingFlapping": {
		"kubectl get events --sort-by=.lastTimestamp",
		"Check cluster autoscaler and node churn",
	},
	"PriorityPreemptionChain": {
		"kubectl get priorityclasses",
		"kubectl describe pod %s",
		"Review capacity headroom for low-priority workloads",
	},
	"SandboxChangedRestart": {
		"kubectl describe pod %s",
		"Check container runtime health on the node",
	},
	"FailedKillPod": {
		"Inspect container runtime logs on the node",
		"kubectl describe pod %s",
	},
	"CrashLoopAfterConfigChange": {
		"Review the most recent ConfigMap/Secret change",
		"kubectl logs %s --previous",
		"Roll back the configuration change",
	},
	"ImageUpdatedThenCrashloop": {
		"kubectl rollout history for the owner workload",
		"kubectl logs %s --previous",
		"Roll back to the previous image",
	},
}

// DefaultAdvisory is returned when no rule matched.
var DefaultAdvisory = []string{
	"kubectl describe pod <name>",
	"kubectl get events --sort-by=.lastTimestamp",
	"Inspect pod status and container statuses directly",
}

// For returns the ordered checks for a cause kind, interpolating the
// involved object's name. Unknown kinds yield an empty list.
func For(kind, involvedObject string) []string {
	templates, ok := checkTable[kind]
	if !ok {
		return nil
	}
	name := involvedName(involvedObject)
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		if strings.Contains(t, "%s") {
			out = append(out, strings.ReplaceAll(t, "%s", name))
		} else {
			out = append(out, t)
		}
	}
	return out
}

// involvedName strips the "kind:" prefix from an involved object
// reference.
func involvedName(ref string) string {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[i+1:]
	}
	if ref == "" {
		return "<name>"
	}
	return ref
}
