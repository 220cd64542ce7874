/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package azdo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"

	"github.com/opentools-mf/azdo-runner-operator/internal/errs"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

// HTTPTimeout bounds every Azure DevOps round trip the Gateway makes. It
// is a var, not a const, so cmd/main.go can override it from the
// --azure-devops-http-timeout flag before the manager starts. Zero
// disables the timeout.
var HTTPTimeout = 30 * time.Second

// Gateway is the stateless client the reconciliation engine uses to talk
// to one Azure DevOps organization. It is bound to (organizationURL, pat)
// at construction and normalizes SDK/HTTP responses into the planner's
// domain types, so nothing above this package imports the SDK.
type Gateway struct {
	client *Client
}

// withTimeout bounds ctx by HTTPTimeout, used before every outbound call
// this Gateway makes.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if HTTPTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, HTTPTimeout)
}

// NewGateway wires a Gateway around a freshly constructed SDK client.
func NewGateway(organizationURL, pat string) (*Gateway, error) {
	c, err := NewClient(organizationURL, pat)
	if err != nil {
		return nil, err
	}
	return &Gateway{client: c}, nil
}

func (g *Gateway) Close() {
	g.client.Close()
}

// TestConnection probes connectivity with a lightweight authenticated
// GET; it does not distinguish the failure reason, only success.
func (g *Gateway) TestConnection(ctx context.Context) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.client.organizationURL+"/_apis/projects?api-version=7.0", nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.client.SendRequest(req)
	if err != nil {
		return false, classify("testConnection", statusCodeOf(resp, err), err)
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// ResolvePoolID finds the Azure DevOps pool id whose name matches
// poolName case-insensitively.
func (g *Gateway) ResolvePoolID(ctx context.Context, poolName string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	pools, err := g.client.ListPools(ctx)
	if err != nil {
		return 0, classify("resolvePoolId", statusCodeOf(nil, err), err)
	}
	for _, p := range pools {
		if p.Name != nil && strings.EqualFold(*p.Name, poolName) && p.Id != nil {
			return *p.Id, nil
		}
	}
	return 0, fmt.Errorf("azure devops: resolve pool %q: %w", poolName, errs.ErrPoolNotFound)
}

// ListAgents returns every agent registered to poolID, normalized into
// the planner's domain type. Status "online" (case-insensitive) maps to
// Online; anything else maps to Offline.
func (g *Gateway) ListAgents(ctx context.Context, poolID int) ([]planner.Agent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	agents, err := g.client.ListAgents(ctx, poolID, ListAgentsOpts{IncludeLastCompletedRequest: true})
	if err != nil {
		return nil, classify("listAgents", statusCodeOf(nil, err), err)
	}
	if agents == nil {
		return nil, nil
	}
	out := make([]planner.Agent, 0, len(*agents))
	for _, a := range *agents {
		out = append(out, normalizeAgent(a))
	}
	return out, nil
}

func normalizeAgent(a taskagent.TaskAgent) planner.Agent {
	agent := planner.Agent{}
	if a.Id != nil {
		agent.ID = *a.Id
	}
	if a.Name != nil {
		agent.Name = *a.Name
	}
	agent.Status = planner.AgentOffline
	if a.Status != nil && strings.EqualFold(string(*a.Status), "online") {
		agent.Status = planner.AgentOnline
	}
	if a.LastCompletedRequest != nil && a.LastCompletedRequest.FinishTime != nil {
		t := a.LastCompletedRequest.FinishTime.Time
		agent.LastActive = &t
	}
	return agent
}

// ListJobRequests returns every job request known to poolID (queued,
// in-flight, and recently completed), normalized into the planner's
// domain type.
func (g *Gateway) ListJobRequests(ctx context.Context, poolID int) ([]planner.JobRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	jobs, err := g.client.GetAgentRequestsForPool(ctx, GetAgentRequestArgs{PoolId: &poolID})
	if err != nil {
		return nil, classify("listJobRequests", statusCodeOf(nil, err), err)
	}
	if jobs == nil {
		return nil, nil
	}
	out := make([]planner.JobRequest, 0, len(*jobs))
	for _, j := range *jobs {
		out = append(out, normalizeJobRequest(j))
	}
	return out, nil
}

func normalizeJobRequest(j taskagent.TaskAgentJobRequest) planner.JobRequest {
	jr := planner.JobRequest{}
	if j.RequestId != nil {
		jr.RequestID = *j.RequestId
	}
	if j.ReservedAgent != nil && j.ReservedAgent.Id != nil {
		jr.AgentID = j.ReservedAgent.Id
	}
	if j.Result != nil {
		s := string(*j.Result)
		jr.Result = &s
	}
	if j.Demands != nil {
		jr.Demands = append([]string(nil), (*j.Demands)...)
	}
	return jr
}

// CountQueuedJobs reports how many job requests have no result yet.
func (g *Gateway) CountQueuedJobs(ctx context.Context, poolID int) (int, error) {
	jobs, err := g.ListJobRequests(ctx, poolID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range jobs {
		if j.Result == nil {
			count++
		}
	}
	return count, nil
}

// UnregisterAgent resolves agentName to an id within poolID and deletes
// it. A 404 on either lookup or delete is treated as success: the agent
// is already gone, which is the desired end state.
func (g *Gateway) UnregisterAgent(ctx context.Context, poolID int, agentName string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	agents, err := g.client.ListAgents(ctx, poolID, ListAgentsOpts{Name: &agentName})
	if err != nil {
		code := statusCodeOf(nil, err)
		if isNotFound(code) {
			return nil
		}
		return classify("unregisterAgent: lookup", code, err)
	}
	if agents == nil || len(*agents) == 0 {
		return nil
	}
	agentID := (*agents)[0].Id
	if agentID == nil {
		return nil
	}
	if err := g.client.DeleteAgent(ctx, poolID, *agentID); err != nil {
		code := statusCodeOf(nil, err)
		if isNotFound(code) {
			return nil
		}
		return classify("unregisterAgent: delete", code, err)
	}
	return nil
}

// ExtractOrganizationName derives a human-readable organization name
// from an Azure DevOps collection URL. It recognizes the three common
// shapes: dev.azure.com/<org>, <org>.visualstudio.com, and self-hosted
// TFS collection URLs of the form <host>/[tfs/]<collection>.
func ExtractOrganizationName(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	idx := strings.Index(trimmed, "://")
	if idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "dev.azure.com/") {
		return firstSegment(trimmed[len("dev.azure.com/"):])
	}
	host := trimmed
	if slash := strings.Index(host, "/"); slash >= 0 {
		host = host[:slash]
	}
	if strings.Contains(strings.ToLower(host), ".visualstudio.com") {
		return host[:strings.Index(strings.ToLower(host), ".visualstudio.com")]
	}
	// Self-hosted installation: first non-empty path segment, skipping "tfs".
	rest := ""
	if slash := strings.Index(trimmed, "/"); slash >= 0 {
		rest = trimmed[slash+1:]
	}
	for _, seg := range strings.Split(rest, "/") {
		if seg == "" || strings.EqualFold(seg, "tfs") {
			continue
		}
		return seg
	}
	return host
}

func firstSegment(s string) string {
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[:idx]
	}
	return s
}
