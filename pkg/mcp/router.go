package mcp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// toolNameRegex validates the "server.tool" format.
// Both parts must start with a word character and contain only word
// characters and hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// FunctionPrefix namespaces MCP tools in LLM function names:
// "mcp_<server_id>_<tool_name>".
const FunctionPrefix = "mcp_"

// SplitToolName splits "server.tool" into (serverID, toolName).
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'search-server.web_search')", name)
	}
	return matches[1], matches[2], nil
}

// SplitFunctionName resolves an LLM function name "mcp_<server>_<tool>" back
// to (serverID, toolName). Server ids may themselves contain underscores, so
// the known server list is consulted longest-first; without a match the first
// underscore is taken as the separator.
func SplitFunctionName(name string, knownServers []string) (serverID, toolName string, err error) {
	rest, ok := strings.CutPrefix(name, FunctionPrefix)
	if !ok {
		// Also accept the dotted form used in plain-text tool references.
		if strings.Contains(name, ".") {
			return SplitToolName(name)
		}
		return "", "", fmt.Errorf("function name %q is not an MCP tool", name)
	}

	sorted := append([]string(nil), knownServers...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, id := range sorted {
		if strings.HasPrefix(rest, id+"_") {
			return id, rest[len(id)+1:], nil
		}
	}

	idx := strings.Index(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("cannot split MCP function name %q", name)
	}
	return rest[:idx], rest[idx+1:], nil
}

// FunctionName renders the LLM-visible function name for a server tool.
func FunctionName(serverID, toolName string) string {
	return FunctionPrefix + serverID + "_" + toolName
}
