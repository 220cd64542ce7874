package azdo

import (
	"context"
	"fmt"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"
)

// ListPools returns every pool visible to the connection, used by
// ResolvePoolID to do a case-insensitive name match (the SDK's own
// PoolName filter is exact-match only).
func (c *Client) ListPools(ctx context.Context) ([]taskagent.TaskAgentPool, error) {
	pools, err := c.taskAgentClient.GetAgentPools(ctx, taskagent.GetAgentPoolsArgs{})
	if err != nil {
		return nil, fmt.Errorf("azure devops: failed to list agent pools: %w", err)
	}
	if pools == nil {
		return nil, nil
	}
	return *pools, nil
}

func (c *Client) GetPoolByID(ctx context.Context, poolId int) (*taskagent.TaskAgentPool, error) {
	pool, err := c.taskAgentClient.GetAgentPool(ctx, taskagent.GetAgentPoolArgs{
		PoolId: &poolId,
	})
	if err != nil {
		return nil, fmt.Errorf("azure devops: failed to get agent pool id %d: %w", poolId, err)
	}

	return pool, nil
}
