package planner_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

func ptrString(s string) *string { return &s }
func ptrInt(i int) *int          { return &i }
func ptrTime(t time.Time) *time.Time { return &t }

var _ = Describe("Plan", func() {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	It("produces no actions on a cold start with no work", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 3, TTLIdleSeconds: 0}
		snap := planner.Snapshot{Now: now}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(BeEmpty())
	})

	It("scales up for a single queued job with no existing agents", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 5, TTLIdleSeconds: 60}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 1,
			Jobs:       []planner.JobRequest{{RequestID: 42}},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(HaveLen(1))
		Expect(actions[0]).To(Equal(planner.Action{
			Kind:         planner.ActionCreatePod,
			Index:        0,
			IsMinAgent:   false,
			Capability:   "base",
			JobRequestID: "42",
			PodName:      "p-agent-0",
		}))
	})

	It("reuses an idle agent instead of creating a new pod", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 2, TTLIdleSeconds: 300, CapabilityAware: false}
		lastActive := now.Add(-30 * time.Second)
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 1,
			Jobs:       []planner.JobRequest{{RequestID: 99}},
			Agents: []planner.Agent{
				{ID: 7, Name: "p-agent-0", Status: planner.AgentOnline, LastActive: ptrTime(lastActive)},
			},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"job-request-id": ""}, CreatedAt: now.Add(-10 * time.Minute)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(Equal([]planner.Action{
			{Kind: planner.ActionRelabelPod, PodName: "p-agent-0", Labels: map[string]string{"job-request-id": "99"}},
		}))
	})

	It("replaces a base min-agent with a capability-matched one before removing the old pod", func() {
		spec := planner.PoolSpec{
			PoolName: "p", MinAgents: 1, MaxAgents: 3, CapabilityAware: true,
			CapabilityImages: map[string]string{"java": "img-java"},
		}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 1,
			Jobs:       []planner.JobRequest{{RequestID: 1, Demands: []string{"java"}}},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"min-agent": "true", "capability": "base"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(Equal([]planner.Action{
			{Kind: planner.ActionCreatePod, Index: 1, IsMinAgent: true, Capability: "java", PodName: "p-agent-1"},
			{Kind: planner.ActionDeregisterAgent, AgentName: "p-agent-0"},
			{Kind: planner.ActionDeletePod, PodName: "p-agent-0"},
		}))
	})

	It("never touches a pod protected by both busy predicates", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 1, TTLIdleSeconds: 0}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 0,
			Jobs:       []planner.JobRequest{{RequestID: 500, AgentID: ptrInt(7)}},
			Agents:     []planner.Agent{{ID: 7, Name: "p-agent-0", Status: planner.AgentOnline}},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"job-request-id": "500"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(BeEmpty())
	})

	It("is deterministic for identical input", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 1, MaxAgents: 4, TTLIdleSeconds: 120, CapabilityAware: true, CapabilityImages: map[string]string{"java": "img"}}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 2,
			Jobs: []planner.JobRequest{
				{RequestID: 1, Demands: []string{"java"}},
				{RequestID: 2},
			},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"min-agent": "true", "capability": "base"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		a1 := planner.Plan(spec, snap)
		a2 := planner.Plan(spec, snap)

		Expect(a1).To(Equal(a2))
	})

	It("protects pods younger than the registration grace period from idle removal", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 1, TTLIdleSeconds: 0}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 0,
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{}, CreatedAt: now.Add(-30 * time.Second)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(BeEmpty())
	})

	It("removes all idle non-min pods in one tick when ttl is zero and the queue is empty", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 3, TTLIdleSeconds: 0}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 0,
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{}, CreatedAt: now.Add(-1 * time.Hour)},
				{Name: "p-agent-1", Phase: planner.PodRunning, Labels: map[string]string{}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(ConsistOf(
			planner.Action{Kind: planner.ActionDeregisterAgent, AgentName: "p-agent-0"},
			planner.Action{Kind: planner.ActionDeletePod, PodName: "p-agent-0"},
			planner.Action{Kind: planner.ActionDeregisterAgent, AgentName: "p-agent-1"},
			planner.Action{Kind: planner.ActionDeletePod, PodName: "p-agent-1"},
		))
	})

	It("keeps a pod alive when its agent was active within the ttl window", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 1, TTLIdleSeconds: 120}
		snap := planner.Snapshot{
			Now: now,
			Agents: []planner.Agent{
				{ID: 1, Name: "p-agent-0", Status: planner.AgentOnline, LastActive: ptrTime(now.Add(-60 * time.Second))},
			},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(BeEmpty())
	})

	It("never allows non-min pods to exist when minAgents equals maxAgents", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 2, MaxAgents: 2, TTLIdleSeconds: 0}
		snap := planner.Snapshot{
			Now: now,
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"min-agent": "true"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(Equal([]planner.Action{
			{Kind: planner.ActionCreatePod, Index: 1, IsMinAgent: true, Capability: "base", PodName: "p-agent-1"},
		}))
	})

	It("clears the job-request-id label once the bound job completes", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 1, TTLIdleSeconds: 60}
		snap := planner.Snapshot{
			Now:  now,
			Jobs: []planner.JobRequest{{RequestID: 5, Result: ptrString("succeeded")}},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"job-request-id": "5"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions[0]).To(Equal(planner.Action{Kind: planner.ActionRelabelPod, PodName: "p-agent-0", Labels: map[string]string{"job-request-id": ""}}))
	})

	It("deregisters an offline operator-managed agent with no pod and no incomplete work", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 0, MaxAgents: 1, TTLIdleSeconds: 60}
		snap := planner.Snapshot{
			Now:    now,
			Agents: []planner.Agent{{ID: 3, Name: "p-agent-0", Status: planner.AgentOffline}},
		}

		actions := planner.Plan(spec, snap)

		Expect(actions).To(Equal([]planner.Action{
			{Kind: planner.ActionDeregisterAgent, AgentName: "p-agent-0"},
		}))
	})

	It("never exceeds maxAgents even after convergence and scale-up stages run", func() {
		spec := planner.PoolSpec{PoolName: "p", MinAgents: 1, MaxAgents: 1, TTLIdleSeconds: 0}
		snap := planner.Snapshot{
			Now:        now,
			QueuedJobs: 3,
			Jobs: []planner.JobRequest{
				{RequestID: 1}, {RequestID: 2}, {RequestID: 3},
			},
			Pods: []planner.Pod{
				{Name: "p-agent-0", Phase: planner.PodRunning, Labels: map[string]string{"min-agent": "true"}, CreatedAt: now.Add(-1 * time.Hour)},
			},
		}

		actions := planner.Plan(spec, snap)

		created := 0
		for _, a := range actions {
			if a.Kind == planner.ActionCreatePod {
				created++
			}
		}
		Expect(created).To(Equal(0))
	})
})
