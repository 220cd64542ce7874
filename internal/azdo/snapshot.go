package azdo

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

// FetchAgentsAndJobs assembles the Azure DevOps half of a planning
// snapshot: the pool id, its agents, and its job requests. The
// Kubernetes half (pods) is gathered separately by PodGateway and
// merged by the caller, since the two fetches run in parallel.
func (g *Gateway) FetchAgentsAndJobs(ctx context.Context, poolName string) (poolID int, agents []planner.Agent, jobs []planner.JobRequest, err error) {
	logger := log.FromContext(ctx)

	poolID, err = g.ResolvePoolID(ctx, poolName)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("snapshot: resolve pool %q: %w", poolName, err)
	}

	agents, err = g.ListAgents(ctx, poolID)
	if err != nil {
		return poolID, nil, nil, fmt.Errorf("snapshot: list agents for pool %q: %w", poolName, err)
	}

	jobs, err = g.ListJobRequests(ctx, poolID)
	if err != nil {
		return poolID, agents, nil, fmt.Errorf("snapshot: list job requests for pool %q: %w", poolName, err)
	}

	logger.V(1).Info("fetched azure devops snapshot", "pool", poolName, "poolId", poolID, "agents", len(agents), "jobs", len(jobs))
	return poolID, agents, jobs, nil
}

// CountQueued counts jobs with no result yet. Folding in the
// scale-up-eligible "inProgress" case is the planner's job (Stage H),
// not this count: this is purely the status display value named in the
// status subresource.
func CountQueued(jobs []planner.JobRequest) int {
	n := 0
	for _, j := range jobs {
		if j.Result == nil {
			n++
		}
	}
	return n
}
