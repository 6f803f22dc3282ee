package models

import "time"

// NodeInfo contains metadata about a simulated field node
type NodeInfo struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Crop      string    `json:"crop"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"startTime"`
}

// Uptime returns the duration since the node started
func (n *NodeInfo) Uptime() time.Duration {
	return time.Since(n.StartTime)
}

// NewNodeInfo creates a new NodeInfo with the current time as start time
func NewNodeInfo(id, location, crop, version string) *NodeInfo {
	return &NodeInfo{
		ID:        id,
		Location:  location,
		Crop:      crop,
		Version:   version,
		StartTime: time.Now(),
	}
}
