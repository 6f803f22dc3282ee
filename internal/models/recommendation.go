package models

import "time"

// IrrigationStatus is the pump state shown on the dashboard.
type IrrigationStatus string

const (
	IrrigationOn  IrrigationStatus = "ON"
	IrrigationOff IrrigationStatus = "OFF"
)

// StatusFor renders shouldIrrigate as a pump state.
func StatusFor(shouldIrrigate bool) IrrigationStatus {
	if shouldIrrigate {
		return IrrigationOn
	}
	return IrrigationOff
}

// Recommendation is the irrigation decision returned to the dashboard.
// IrrigationStatus is always StatusFor(ShouldIrrigate).
type Recommendation struct {
	ShouldIrrigate   bool             `json:"shouldIrrigate"`
	Reason           string           `json:"reason"`
	IrrigationStatus IrrigationStatus `json:"irrigationStatus"`
	Confidence       int              `json:"confidence"`
}

// RecommendationRecord is an issued recommendation kept in the audit log.
type RecommendationRecord struct {
	ID       string    `json:"id"`
	City     string    `json:"city"`
	Crop     string    `json:"crop"`
	IssuedAt time.Time `json:"issuedAt"`
	Recommendation
}
