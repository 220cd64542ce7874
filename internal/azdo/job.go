package azdo

import (
	"context"
	"net/http"
	"strconv"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"
)

// GetAgentRequestArgs is the argument type for GetAgentRequestsForPool,
// kept distinct from taskagent's own args types since job requests have
// no dedicated SDK method and are fetched over raw HTTP.
type GetAgentRequestArgs struct {
	PoolId *int
}

// GetAgentRequestsForPool fetches every job request (queued, in-flight,
// and recently completed) for a pool. The SDK has no typed method for
// this endpoint, so the request is built and sent by hand, the same
// fallback path used for queued-job counting and capability grouping.
func (c *Client) GetAgentRequestsForPool(
	ctx context.Context,
	args GetAgentRequestArgs,
) (*[]taskagent.TaskAgentJobRequest, error) {
	if args.PoolId == nil {
		return nil, &azuredevops.ArgumentNilError{ArgumentName: "args.PoolId"}
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.organizationURL+"/_apis/distributedtask/pools/"+strconv.Itoa(
			*args.PoolId,
		)+"/jobrequests?api-version=7.0",
		nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.SendRequest(req)
	if err != nil {
		return nil, err
	}

	var responseValue []taskagent.TaskAgentJobRequest
	err = c.client.UnmarshalBody(resp, &responseValue)
	return &responseValue, err
}
