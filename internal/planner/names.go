package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Two pod-suffix formats coexist for backward compatibility: a decimal
// index (what this implementation emits) and an 8-char alphanumeric
// token (emitted by older deployments). Both are recognized as
// operator-managed so existing fleets aren't abandoned mid-upgrade.
var (
	numericSuffix = regexp.MustCompile(`^[0-9]+$`)
	tokenSuffix   = regexp.MustCompile(`^[a-zA-Z0-9]{8}$`)
)

func managedPodPrefix(poolName string) string {
	return poolName + "-agent-"
}

// ManagedPodName returns the canonical pod name for a numeric agent index.
func ManagedPodName(poolName string, index int) string {
	return fmt.Sprintf("%s%d", managedPodPrefix(poolName), index)
}

// IsManagedName reports whether name matches the operator-managed pattern
// for poolName, regardless of which suffix format was used to create it.
// It applies equally to pod names and Azure DevOps agent names, since by
// convention an agent registers under the same name as its pod.
func IsManagedName(poolName, name string) bool {
	prefix := managedPodPrefix(poolName)
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	suffix := name[len(prefix):]
	if suffix == "" {
		return false
	}
	return numericSuffix.MatchString(suffix) || tokenSuffix.MatchString(suffix)
}

// ParseAgentIndex extracts the numeric suffix of a managed pod name, if
// it has one. Tokens from the legacy 8-char format return ok=false: they
// occupy a slot but not a specific index, so nextAvailableIndex treats
// them as "in use" without needing to parse them.
func ParseAgentIndex(poolName, name string) (int, bool) {
	prefix := managedPodPrefix(poolName)
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	suffix := name[len(prefix):]
	if !numericSuffix.MatchString(suffix) {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func capabilityOf(labels map[string]string) string {
	if c := labels["capability"]; c != "" {
		return c
	}
	return "base"
}

// ResolveCapability returns the first job demand that has an entry in
// capabilityImages, or "base" if none match.
func ResolveCapability(demands []string, capabilityImages map[string]string) string {
	for _, d := range demands {
		if _, ok := capabilityImages[d]; ok {
			return d
		}
	}
	return "base"
}
