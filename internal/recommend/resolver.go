package recommend

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/afroash/krishi-monitor/internal/models"
)

// Range is a half-open integer interval [Base, Base+Span).
type Range struct {
	Base int
	Span int
}

// Max returns the exclusive upper bound.
func (r Range) Max() int { return r.Base + r.Span }

func (r Range) draw(rng *rand.Rand) float64 {
	return float64(rng.IntN(r.Span) + r.Base)
}

// Simulation ranges used when a value is not supplied.
var (
	SoilMoistureRange = Range{Base: 20, Span: 50} // [20,70) %
	TemperatureRange  = Range{Base: 25, Span: 15} // [25,40) °C
	HumidityRange     = Range{Base: 40, Span: 50} // [40,90) %
)

// ReadingInput holds caller-supplied values. A nil field is filled in by the
// Resolver.
type ReadingInput struct {
	SoilMoisture *float64
	Temperature  *float64
	Humidity     *float64
}

// Resolver fills in missing reading values with simulated ones.
// It is safe for concurrent use.
type Resolver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a resolver drawing from src. A nil src gets a randomly
// seeded PCG source.
func NewResolver(src rand.Source) *Resolver {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Resolver{rng: rand.New(src)}
}

// Resolve returns a fully populated reading. Supplied values pass through
// unchanged, without clamping.
func (r *Resolver) Resolve(in ReadingInput) models.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	return models.Reading{
		Timestamp:    time.Now().UTC(),
		SoilMoisture: r.valueOr(in.SoilMoisture, SoilMoistureRange),
		Temperature:  r.valueOr(in.Temperature, TemperatureRange),
		Humidity:     r.valueOr(in.Humidity, HumidityRange),
	}
}

// Simulate returns a reading with every value simulated.
func (r *Resolver) Simulate() models.Reading {
	return r.Resolve(ReadingInput{})
}

func (r *Resolver) valueOr(v *float64, within Range) float64 {
	if v != nil {
		return *v
	}
	return within.draw(r.rng)
}
