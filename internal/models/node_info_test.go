// internal/models/node_info_test.go
package models

import (
	"testing"
	"time"
)

func TestNewNodeInfo(t *testing.T) {
	info := NewNodeInfo("node-01", "North Plot", "rice", "v1.0.0")

	if info == nil {
		t.Fatal("NewNodeInfo returned nil")
	}
	if info.ID != "node-01" {
		t.Errorf("ID = %v, want node-01", info.ID)
	}
	if info.Location != "North Plot" {
		t.Errorf("Location = %v, want North Plot", info.Location)
	}
	if info.Crop != "rice" {
		t.Errorf("Crop = %v, want rice", info.Crop)
	}
	if info.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
}

func TestNodeInfo_Uptime(t *testing.T) {
	info := &NodeInfo{
		ID:        "node-01",
		StartTime: time.Now().Add(-1 * time.Hour),
	}

	uptime := info.Uptime()

	if uptime < 59*time.Minute || uptime > 61*time.Minute {
		t.Errorf("Uptime = %v, expected approximately 1 hour", uptime)
	}
}
