// Package recommend turns a soil reading and a crop into an irrigation
// recommendation using a fixed threshold table.
package recommend

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/afroash/krishi-monitor/internal/models"
)

const (
	DefaultCity = "Mumbai"
	DefaultCrop = "wheat"
)

// Thresholds, in the units of the reading.
const (
	IrrigateBelow = 40.0 // soil moisture %
	CriticalBelow = 30.0 // soil moisture %
	HotAbove      = 32.0 // °C

	baseConfidence = 70
	irrigateBoost  = 20
	heatBoost      = 5
	MaxConfidence  = 95
)

// Request is one recommendation request after decoding.
type Request struct {
	City  string
	Crop  string
	Input ReadingInput
}

// NewRequest returns a request for the default city and crop. City and Crop
// are used verbatim afterwards, so an empty crop stays empty.
func NewRequest(input ReadingInput) Request {
	return Request{City: DefaultCity, Crop: DefaultCrop, Input: input}
}

// Engine resolves the reading for a request and applies Recommend to it.
type Engine struct {
	resolver *Resolver
}

// NewEngine creates an engine backed by resolver.
func NewEngine(resolver *Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Evaluate resolves the request's reading and returns it with the decision.
func (e *Engine) Evaluate(req Request) (models.Reading, models.Recommendation) {
	reading := e.resolver.Resolve(req.Input)
	return reading, Recommend(reading, req.Crop)
}

// Recommend applies the threshold table. shouldIrrigate and the reason tier
// are computed independently from the same soil moisture thresholds.
func Recommend(reading models.Reading, crop string) models.Recommendation {
	shouldIrrigate := reading.SoilMoisture < IrrigateBelow

	return models.Recommendation{
		ShouldIrrigate:   shouldIrrigate,
		Reason:           reason(reading.SoilMoisture, crop),
		IrrigationStatus: models.StatusFor(shouldIrrigate),
		Confidence:       confidence(shouldIrrigate, reading.Temperature),
	}
}

func reason(soilMoisture float64, crop string) string {
	sm := FormatNumber(soilMoisture)
	switch {
	case soilMoisture < CriticalBelow:
		return fmt.Sprintf("Critical: Soil moisture is very low (%s%%). Immediate irrigation recommended for %s crop.", sm, crop)
	case soilMoisture < IrrigateBelow:
		return fmt.Sprintf("Low moisture level (%s%%). Consider irrigation to maintain optimal %s growth.", sm, crop)
	default:
		return fmt.Sprintf("Soil moisture is adequate (%s%%). No immediate irrigation needed for %s.", sm, crop)
	}
}

func confidence(shouldIrrigate bool, temperature float64) int {
	c := baseConfidence
	if shouldIrrigate {
		c += irrigateBoost
	}
	if temperature > HotAbove {
		c += heatBoost
	}
	return min(c, MaxConfidence)
}

// FormatNumber renders v with the shortest digits that round-trip. Values
// with magnitude in [1e-6, 1e21) are written in plain decimal and others in
// exponent form ("1e+21", "1.5e-7"). Both zeros print as "0" and the
// infinities as "Infinity" and "-Infinity".
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	if abs := math.Abs(v); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, 64), "e")
	n, _ := strconv.Atoi(exp)
	if n < 0 {
		return mantissa + "e-" + strconv.Itoa(-n)
	}
	return mantissa + "e+" + strconv.Itoa(n)
}
