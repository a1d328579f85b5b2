package position

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// Posterior tracks a running Beta distribution over the session win rate,
// used only as an end-of-session diagnostic (never consulted by the Sizer
// or the risk gate). Seeded with an uninformative Beta(1, 1) prior; callers
// that have a backtest-derived prior should load one from disk instead.
type Posterior struct {
	mu    sync.Mutex
	Alpha int64
	Beta  int64
}

// NewPosterior returns a posterior seeded with an uninformative prior.
func NewPosterior() *Posterior {
	return &Posterior{Alpha: 1, Beta: 1}
}

// LoadPosterior reads alpha/beta from path, or returns a fresh uninformative
// posterior if the file doesn't exist.
func LoadPosterior(path string) (*Posterior, error) {
	p := NewPosterior()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("reading posterior %s: %w", path, err)
	}

	var stored struct {
		Alpha int64 `json:"alpha"`
		Beta  int64 `json:"beta"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing posterior %s: %w", path, err)
	}
	p.Alpha, p.Beta = stored.Alpha, stored.Beta
	return p, nil
}

// Save persists alpha/beta to path.
func (p *Posterior) Save(path string) error {
	p.mu.Lock()
	data, err := json.MarshalIndent(struct {
		Alpha int64 `json:"alpha"`
		Beta  int64 `json:"beta"`
	}{p.Alpha, p.Beta}, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshalling posterior: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Update folds wins/losses observed this session into the posterior.
func (p *Posterior) Update(wins, losses int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Alpha += wins
	p.Beta += losses
}

// Mean returns the posterior mean win rate.
func (p *Posterior) Mean() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.Alpha) / float64(p.Alpha+p.Beta)
}

// CredibleInterval returns the [lower, upper] interval at the given
// confidence level (e.g. 0.95), via a normal approximation to the Beta
// distribution. Adequate for a diagnostic; not used for any sizing
// decision.
func (p *Posterior) CredibleInterval(confidence float64) [2]float64 {
	p.mu.Lock()
	a, b := float64(p.Alpha), float64(p.Beta)
	p.mu.Unlock()

	mean := a / (a + b)
	variance := (a * b) / ((a + b) * (a + b) * (a + b + 1))
	sd := math.Sqrt(variance)

	z := 1.96
	if confidence != 0.95 {
		z = math.Sqrt(2) * erfInv(confidence)
	}

	lower := math.Max(0, mean-z*sd)
	upper := math.Min(1, mean+z*sd)
	return [2]float64{lower, upper}
}

// erfInv is a rational approximation of the inverse error function, good
// enough for translating an arbitrary confidence level into a z-score.
func erfInv(x float64) float64 {
	a := 0.147
	ln := math.Log(1 - x*x)
	t1 := 2/(math.Pi*a) + ln/2
	return math.Copysign(math.Sqrt(math.Sqrt(t1*t1-ln/a)-t1), x)
}

func (p *Posterior) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("Beta(%d, %d)", p.Alpha, p.Beta)
}
