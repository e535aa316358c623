package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// gainPerMin: +0.6 punti percentuali al minuto con pompa ON.
	gainPerMin = 0.6
	// defaultDecayPerMin: -0.1 punti al minuto con pompa OFF.
	defaultDecayPerMin = 0.1
	// defaultSeed: umidità iniziale del suolo (%).
	defaultSeed = 45.0
)

// Environment is one simulated reading of the field.
type Environment struct {
	Temperature float64 // °C
	Soil        float64 // % umidità suolo
	Light       float64 // lx
}

// DataGenerator mantiene lo stato interno dell'umidità e lo aggiorna nel tempo.
type DataGenerator struct {
	mu          sync.Mutex
	last        time.Time
	moisture    float64
	decayPerMin float64
	rng         *rand.Rand
	now         func() time.Time
}

// NewDataGenerator crea un generatore con dato tasso di decadimento (OFF) per minuto.
func NewDataGenerator(decayPerMin float64, seed int64) *DataGenerator {
	if decayPerMin <= 0 {
		decayPerMin = defaultDecayPerMin
	}
	return &DataGenerator{
		moisture:    defaultSeed,
		decayPerMin: decayPerMin,
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
	}
}

// WithClock sostituisce l'orologio (test).
func (g *DataGenerator) WithClock(now func() time.Time) *DataGenerator {
	g.now = now
	return g
}

// Next advances the model to now. pumpOn selects gain or decay for the
// elapsed interval.
func (g *DataGenerator) Next(pumpOn bool) Environment {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if pumpOn {
		g.moisture = clamp(g.moisture+gainPerMin*dtMin, 0, 100)
	} else {
		g.moisture = clamp(g.moisture-g.decayPerMin*dtMin, 0, 100)
	}
	g.last = now

	// ciclo giornaliero: minimo alle 4, massimo alle 16
	hour := float64(now.Hour()) + float64(now.Minute())/60
	phase := math.Sin((hour - 10) / 24 * 2 * math.Pi)
	temp := 22 + 6*phase + g.rng.NormFloat64()*0.3
	light := math.Max(0, 800*phase+g.rng.NormFloat64()*15)

	return Environment{
		Temperature: round1(temp),
		Soil:        round1(g.moisture),
		Light:       math.Round(light),
	}
}

// ===== Helpers =====

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
