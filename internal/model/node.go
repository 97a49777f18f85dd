package model

import "fmt"

// NodeType classifies a monitoring point within the water network.
type NodeType string

const (
	NodeStorage         NodeType = "storage"
	NodeDistribution    NodeType = "distribution"
	NodeMonitoring      NodeType = "monitoring"
	NodeInterconnection NodeType = "interconnection"
	NodeZoneMeter       NodeType = "zone_meter"
)

// ParseNodeType parses a string into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	switch NodeType(s) {
	case NodeStorage, NodeDistribution, NodeMonitoring, NodeInterconnection, NodeZoneMeter:
		return NodeType(s), nil
	default:
		return "", fmt.Errorf("unknown node type: %s", s)
	}
}

// Valid returns true if the node type is known.
func (t NodeType) Valid() bool {
	_, err := ParseNodeType(string(t))
	return err == nil
}

// Node is reference data for a monitoring point. Nodes are rarely mutated
// and never deleted while readings reference them.
type Node struct {
	ID       string
	Name     string
	Type     NodeType
	Location string
}

// SystemNodeID is the pseudo node ID used for system-wide aggregates.
const SystemNodeID = "*"
