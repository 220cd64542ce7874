package planner

import (
	"sort"
	"strconv"
	"time"
)

// workingPod tracks a pod across stages within one planning pass, since
// later stages must see creations/deletions/relabels made by earlier
// stages (Stage G counts creations from E/F; Stage H checks labels Stage
// A may have just cleared).
type workingPod struct {
	Pod
	deleted bool
}

type workingState struct {
	poolName string
	now      time.Time
	pods     []*workingPod
}

func newWorkingState(spec PoolSpec, snap Snapshot) *workingState {
	ws := &workingState{poolName: spec.PoolName, now: snap.Now}
	for _, p := range snap.Pods {
		labels := make(map[string]string, len(p.Labels))
		for k, v := range p.Labels {
			labels[k] = v
		}
		cp := p
		cp.Labels = labels
		ws.pods = append(ws.pods, &workingPod{Pod: cp})
	}
	return ws
}

func (ws *workingState) live() []*workingPod {
	out := make([]*workingPod, 0, len(ws.pods))
	for _, p := range ws.pods {
		if !p.deleted {
			out = append(out, p)
		}
	}
	return out
}

func (ws *workingState) find(name string) *workingPod {
	for _, p := range ws.pods {
		if p.Name == name && !p.deleted {
			return p
		}
	}
	return nil
}

func (ws *workingState) activeCount() int {
	n := 0
	for _, p := range ws.live() {
		if p.Phase == PodRunning || p.Phase == PodPending {
			n++
		}
	}
	return n
}

// nextAvailableIndex scans live operator-managed pods (numeric suffixes
// and legacy 8-char tokens both occupy a slot) and returns the smallest
// unused non-negative index below maxAgents.
func (ws *workingState) nextAvailableIndex(maxAgents int) (int, bool) {
	used := map[int]bool{}
	tokenCount := 0
	for _, p := range ws.live() {
		if idx, ok := ParseAgentIndex(ws.poolName, p.Name); ok {
			used[idx] = true
		} else if IsManagedName(ws.poolName, p.Name) {
			tokenCount++
		}
	}
	if len(used)+tokenCount >= maxAgents {
		return 0, false
	}
	for i := 0; i < maxAgents; i++ {
		if !used[i] {
			return i, true
		}
	}
	return 0, false
}

func (ws *workingState) createPod(index int, labels map[string]string) {
	l := make(map[string]string, len(labels))
	for k, v := range labels {
		l[k] = v
	}
	ws.pods = append(ws.pods, &workingPod{Pod: Pod{
		Name:      ManagedPodName(ws.poolName, index),
		Phase:     PodPending,
		Labels:    l,
		CreatedAt: ws.now,
	}})
}

func (ws *workingState) deletePod(name string) {
	if p := ws.find(name); p != nil {
		p.deleted = true
	}
}

func (ws *workingState) relabel(name string, patch map[string]string) {
	p := ws.find(name)
	if p == nil {
		return
	}
	for k, v := range patch {
		if v == "" {
			delete(p.Labels, k)
		} else {
			p.Labels[k] = v
		}
	}
}

func baseLabels(poolName string, isMinAgent bool, capability string) map[string]string {
	return map[string]string{
		"app":           "azdo-runner",
		"runner-pool":   poolName,
		"managed-by":    "azdo-runner-operator",
		minAgentLabel:   strconv.FormatBool(isMinAgent),
		capabilityLabel: capability,
	}
}

func agentByName(snap Snapshot, name string) *Agent {
	for i := range snap.Agents {
		if snap.Agents[i].Name == name {
			return &snap.Agents[i]
		}
	}
	return nil
}

func hasLivePod(ws *workingState, name string) bool {
	for _, p := range ws.live() {
		if p.Name == name && (p.Phase == PodRunning || p.Phase == PodPending) {
			return true
		}
	}
	return false
}

// incompleteAssignment reports whether agent a is assigned to an
// incomplete job request, and whether the agent's lastActive falls
// within the last 10 minutes.
func incompleteAssignment(snap Snapshot, a Agent, now time.Time) (assigned, recentlyActive bool) {
	for _, j := range snap.Jobs {
		if j.AgentID == nil || *j.AgentID != a.ID || !isIncomplete(j) {
			continue
		}
		assigned = true
		if a.LastActive != nil && now.Sub(*a.LastActive) <= 10*time.Minute {
			recentlyActive = true
		}
		return
	}
	return false, false
}

func boundToOperatorAgent(snap Snapshot, poolName string, j JobRequest) bool {
	if j.AgentID == nil {
		return false
	}
	for _, a := range snap.Agents {
		if a.ID == *j.AgentID && IsManagedName(poolName, a.Name) {
			return true
		}
	}
	return false
}

func representedByLabel(ws *workingState, requestID int) bool {
	want := strconv.Itoa(requestID)
	for _, p := range ws.live() {
		if p.Labels[jobRequestIDLabel] == want {
			return true
		}
	}
	return false
}

func findReusablePod(ws *workingState, snap Snapshot, spec PoolSpec, capability string) *workingPod {
	var candidates []*workingPod
	cutoff := ws.now.Add(-time.Duration(spec.TTLIdleSeconds) * time.Second)
	for _, p := range ws.live() {
		if p.Phase != PodRunning {
			continue
		}
		if !IsManagedName(spec.PoolName, p.Name) {
			continue
		}
		if p.Labels[minAgentLabel] == "true" {
			continue
		}
		if p.Labels[jobRequestIDLabel] != "" {
			continue
		}
		if isBusy(snap, p.Pod) {
			continue
		}
		if a := agentByName(snap, p.Name); a != nil && a.LastActive != nil && !a.LastActive.After(cutoff) {
			continue
		}
		if spec.CapabilityAware && capabilityOf(p.Labels) != capability {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	return candidates[0]
}

// Plan runs stages A through H against snap and returns the ordered
// action list. It is pure: no I/O, no wall clock (snap.Now is the only
// notion of "now"), no randomness.
func Plan(spec PoolSpec, snap Snapshot) []Action {
	ws := newWorkingState(spec, snap)
	var actions []Action

	// Stage A: completed-label sweep.
	for _, p := range ws.live() {
		if p.Phase != PodRunning {
			continue
		}
		label := p.Labels[jobRequestIDLabel]
		if label == "" {
			continue
		}
		id, ok := parseRequestID(label)
		stale := !ok
		if ok {
			j, found := jobByID(snap, id)
			stale = !found || !isIncomplete(j)
		}
		if stale {
			actions = append(actions, Action{Kind: ActionRelabelPod, PodName: p.Name, Labels: map[string]string{jobRequestIDLabel: ""}})
			ws.relabel(p.Name, map[string]string{jobRequestIDLabel: ""})
		}
	}

	// Stage B: terminal-pod cleanup.
	for _, p := range ws.live() {
		if p.Phase != PodSucceeded && p.Phase != PodFailed {
			continue
		}
		if isBusy(snap, p.Pod) {
			continue
		}
		expired := spec.TTLIdleSeconds == 0 || ws.now.Sub(p.CreatedAt) > time.Duration(spec.TTLIdleSeconds)*time.Second
		if !expired {
			continue
		}
		actions = append(actions,
			Action{Kind: ActionDeregisterAgent, AgentName: p.Name},
			Action{Kind: ActionDeletePod, PodName: p.Name},
		)
		ws.deletePod(p.Name)
	}

	// Stage C: offline-agent cleanup.
	for _, a := range snap.Agents {
		if !IsManagedName(spec.PoolName, a.Name) || a.Status != AgentOffline {
			continue
		}
		if hasLivePod(ws, a.Name) {
			continue
		}
		assigned, recentlyActive := incompleteAssignment(snap, a, ws.now)
		switch {
		case assigned && recentlyActive:
			actions = append(actions, Action{Kind: ActionDeregisterAgent, AgentName: a.Name})
		case !assigned:
			actions = append(actions, Action{Kind: ActionDeregisterAgent, AgentName: a.Name})
		}
	}

	// Stage D: idle cleanup of Running pods.
	for _, p := range ws.live() {
		if p.Phase != PodRunning {
			continue
		}
		if p.Labels[minAgentLabel] == "true" {
			continue
		}
		if inGrace(ws.now, p.Pod, RegistrationGracePeriod) {
			continue
		}
		if isBusy(snap, p.Pod) {
			continue
		}
		remove := false
		if spec.TTLIdleSeconds == 0 {
			remove = snap.QueuedJobs == 0
		} else {
			reference := p.CreatedAt
			if a := agentByName(snap, p.Name); a != nil && a.LastActive != nil {
				reference = *a.LastActive
			}
			remove = ws.now.Sub(reference) > time.Duration(spec.TTLIdleSeconds)*time.Second
		}
		if remove {
			actions = append(actions,
				Action{Kind: ActionDeregisterAgent, AgentName: p.Name},
				Action{Kind: ActionDeletePod, PodName: p.Name},
			)
			ws.deletePod(p.Name)
		}
	}

	// Stage E: minimum-agent convergence.
	M := spec.EffectiveMinAgents()
	var minPods []*workingPod
	for _, p := range ws.live() {
		if p.Labels[minAgentLabel] == "true" {
			minPods = append(minPods, p)
		}
	}
	switch C := len(minPods); {
	case C > M:
		sort.Slice(minPods, func(i, j int) bool { return minPods[i].CreatedAt.Before(minPods[j].CreatedAt) })
		toRemove := C - M
		removed := 0
		for _, p := range minPods {
			if removed >= toRemove {
				break
			}
			if isBusy(snap, p.Pod) || inGrace(ws.now, p.Pod, MinAgentGracePeriod) {
				continue
			}
			actions = append(actions,
				Action{Kind: ActionDeregisterAgent, AgentName: p.Name},
				Action{Kind: ActionDeletePod, PodName: p.Name},
			)
			ws.deletePod(p.Name)
			removed++
		}
	case C < M:
		for i := 0; i < M-C; i++ {
			idx, ok := ws.nextAvailableIndex(spec.MaxAgents)
			if !ok {
				break
			}
			actions = append(actions, Action{Kind: ActionCreatePod, Index: idx, IsMinAgent: true, Capability: "base", PodName: ManagedPodName(spec.PoolName, idx)})
			ws.createPod(idx, baseLabels(spec.PoolName, true, "base"))
		}
	}

	// Stage F: capability optimization.
	if spec.CapabilityAware && M > 0 && snap.QueuedJobs > 0 {
		required := map[string]bool{}
		for _, j := range snap.Jobs {
			if !isIncomplete(j) {
				continue
			}
			if c := ResolveCapability(j.Demands, spec.CapabilityImages); c != "base" {
				required[c] = true
			}
		}
		present := map[string]bool{}
		var basePods []*workingPod
		for _, p := range ws.live() {
			if p.Labels[minAgentLabel] != "true" {
				continue
			}
			c := capabilityOf(p.Labels)
			present[c] = true
			if c == "base" {
				basePods = append(basePods, p)
			}
		}
		sort.Slice(basePods, func(i, j int) bool { return basePods[i].CreatedAt.Before(basePods[j].CreatedAt) })

		var missing []string
		for c := range required {
			if !present[c] {
				missing = append(missing, c)
			}
		}
		sort.Strings(missing)

		bi := 0
		for _, c := range missing {
			if bi >= len(basePods) || ws.activeCount() >= spec.MaxAgents {
				break
			}
			idx, ok := ws.nextAvailableIndex(spec.MaxAgents)
			if !ok {
				break
			}
			actions = append(actions, Action{Kind: ActionCreatePod, Index: idx, IsMinAgent: true, Capability: c, PodName: ManagedPodName(spec.PoolName, idx)})
			ws.createPod(idx, baseLabels(spec.PoolName, true, c))

			base := basePods[bi]
			bi++
			actions = append(actions,
				Action{Kind: ActionDeregisterAgent, AgentName: base.Name},
				Action{Kind: ActionDeletePod, PodName: base.Name},
			)
			ws.deletePod(base.Name)
		}
	}

	// Stage G: max-agent enforcement.
	var active []*workingPod
	for _, p := range ws.live() {
		if p.Phase == PodRunning || p.Phase == PodPending {
			active = append(active, p)
		}
	}
	if len(active) > spec.MaxAgents {
		excess := len(active) - spec.MaxAgents
		sort.SliceStable(active, func(i, j int) bool {
			iMin := active[i].Labels[minAgentLabel] == "true"
			jMin := active[j].Labels[minAgentLabel] == "true"
			if iMin != jMin {
				return !iMin
			}
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		})
		removed := 0
		for _, p := range active {
			if removed >= excess {
				break
			}
			if isBusy(snap, p.Pod) || inGrace(ws.now, p.Pod, RegistrationGracePeriod) {
				continue
			}
			actions = append(actions,
				Action{Kind: ActionDeregisterAgent, AgentName: p.Name},
				Action{Kind: ActionDeletePod, PodName: p.Name},
			)
			ws.deletePod(p.Name)
			removed++
		}
	}

	// Stage H: scale-up for queued work.
	if snap.QueuedJobs > 0 {
		for _, j := range snap.Jobs {
			if j.Result != nil && *j.Result != "inProgress" {
				continue
			}
			if boundToOperatorAgent(snap, spec.PoolName, j) {
				continue
			}
			if representedByLabel(ws, j.RequestID) {
				continue
			}
			capability := "base"
			if spec.CapabilityAware {
				capability = ResolveCapability(j.Demands, spec.CapabilityImages)
			}

			if spec.TTLIdleSeconds > 0 {
				if p := findReusablePod(ws, snap, spec, capability); p != nil {
					patch := map[string]string{jobRequestIDLabel: strconv.Itoa(j.RequestID)}
					actions = append(actions, Action{Kind: ActionRelabelPod, PodName: p.Name, Labels: patch})
					ws.relabel(p.Name, patch)
					continue
				}
			}

			if ws.activeCount() >= spec.MaxAgents {
				break
			}
			idx, ok := ws.nextAvailableIndex(spec.MaxAgents)
			if !ok {
				break
			}
			labels := baseLabels(spec.PoolName, false, capability)
			reqID := strconv.Itoa(j.RequestID)
			labels[jobRequestIDLabel] = reqID
			actions = append(actions, Action{
				Kind:         ActionCreatePod,
				Index:        idx,
				IsMinAgent:   false,
				Capability:   capability,
				JobRequestID: reqID,
				PodName:      ManagedPodName(spec.PoolName, idx),
			})
			ws.createPod(idx, labels)
		}
	}

	return actions
}
