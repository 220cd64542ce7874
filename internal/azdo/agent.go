package azdo

import (
	"context"
	"fmt"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"
)

// ListAgentsOpts narrows a ListAgents call; zero value lists every agent
// in the pool without the last-completed-request expansion.
type ListAgentsOpts struct {
	Name                        *string
	IncludeLastCompletedRequest bool
}

func (c *Client) ListAgents(ctx context.Context, poolId int, opts ListAgentsOpts) (*[]taskagent.TaskAgent, error) {
	args := taskagent.GetAgentsArgs{
		PoolId:    &poolId,
		AgentName: opts.Name,
	}
	if opts.IncludeLastCompletedRequest {
		include := true
		args.IncludeLastCompletedRequest = &include
	}
	agents, err := c.taskAgentClient.GetAgents(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("azure devops: failed to list agents in pool id %d: %w", poolId, err)
	}

	return agents, nil
}

func (c *Client) GetAgent(ctx context.Context, poolId, agentId int) (*taskagent.TaskAgent, error) {
	agent, err := c.taskAgentClient.GetAgent(ctx, taskagent.GetAgentArgs{
		PoolId:  &poolId,
		AgentId: &agentId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %d in pool %d: %w", agentId, poolId, err)
	}

	return agent, nil
}

func (c *Client) DeleteAgent(ctx context.Context, poolId, agentId int) error {
	err := c.taskAgentClient.DeleteAgent(ctx, taskagent.DeleteAgentArgs{
		PoolId:  &poolId,
		AgentId: &agentId,
	})

	if err != nil {
		return fmt.Errorf(
			"azure devops: failed to delete agent %d in pool id %d: %w",
			agentId,
			poolId,
			err,
		)
	}

	return nil
}
