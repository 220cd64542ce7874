package planner

import "time"

// RegistrationGracePeriod shields a freshly created pod from idle and
// max-agent removal for this long after creation. It is a var, not a
// const, so cmd/main.go can override it from the --registration-grace-period
// flag before the manager starts.
var RegistrationGracePeriod = 2 * time.Minute

// MinAgentGracePeriod is the longer grace period applied specifically
// to min-agent removal in Stage E.
const MinAgentGracePeriod = 3 * time.Minute

const (
	jobRequestIDLabel = "job-request-id"
	minAgentLabel     = "min-agent"
	capabilityLabel   = "capability"
)

// jobByID returns the job request with the given id, if present.
func jobByID(snap Snapshot, requestID int) (JobRequest, bool) {
	for _, j := range snap.Jobs {
		if j.RequestID == requestID {
			return j, true
		}
	}
	return JobRequest{}, false
}

func isIncomplete(j JobRequest) bool {
	return j.Result == nil
}

// isBusyByAgent reports whether an AzDO agent sharing the pod's name is
// assigned to an incomplete request.
func isBusyByAgent(snap Snapshot, podName string) bool {
	for _, j := range snap.Jobs {
		if !isIncomplete(j) || j.AgentID == nil {
			continue
		}
		for _, a := range snap.Agents {
			if a.ID == *j.AgentID && a.Name == podName {
				return true
			}
		}
	}
	return false
}

// isBusyByLabel reports whether the pod's job-request-id label points at
// a still-incomplete request.
func isBusyByLabel(snap Snapshot, pod Pod) bool {
	label := pod.Labels[jobRequestIDLabel]
	if label == "" {
		return false
	}
	id, ok := parseRequestID(label)
	if !ok {
		return false
	}
	j, found := jobByID(snap, id)
	if !found {
		return false
	}
	return isIncomplete(j)
}

// isBusy is the union of the two busy predicates.
func isBusy(snap Snapshot, pod Pod) bool {
	return isBusyByAgent(snap, pod.Name) || isBusyByLabel(snap, pod)
}

// inGrace reports whether pod is younger than grace, relative to now.
func inGrace(now time.Time, pod Pod, grace time.Duration) bool {
	return now.Sub(pod.CreatedAt) < grace
}

// IsBusy is the exported form of isBusy, used by the executor to
// re-evaluate the Busy predicate against a freshly refreshed snapshot
// immediately before a destructive action.
func IsBusy(snap Snapshot, pod Pod) bool {
	return isBusy(snap, pod)
}

// IsInGrace is the exported form of inGrace, used by the executor's
// pre-destruction re-check.
func IsInGrace(now time.Time, pod Pod, grace time.Duration) bool {
	return inGrace(now, pod, grace)
}

func parseRequestID(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
