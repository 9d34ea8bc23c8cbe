package astrotraj

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/gonum/matrix/mat64"
	"github.com/gonum/stat/distmv"
)

// Sampler draws the per-trial physical inputs. All methods produce
// independent sequences; the only shared state is the random source.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a sampler seeded deterministically.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

func checkCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("trial count must be positive (got %d)", n)
	}
	return nil
}

// gaussian returns a univariate normal over the sampler's source.
func (s *Sampler) gaussian(mean, σ float64) (*distmv.Normal, error) {
	nrm, ok := distmv.NewNormal([]float64{mean}, mat64.NewSymDense(1, []float64{σ * σ}), s.rng)
	if !ok {
		return nil, fmt.Errorf("cannot build Gaussian with σ=%g", σ)
	}
	return nrm, nil
}

// SampleMasses draws the companion and remnant masses, each from a normal
// distribution centered on its observationally inferred value. Draws are
// rejected until positive.
func (s *Sampler) SampleMasses(n int, m2, m2σ, mns, mnsσ float64) (M2, Mns []float64, err error) {
	if err = checkCount(n); err != nil {
		return nil, nil, err
	}
	if m2σ <= 0 || mnsσ <= 0 {
		return nil, nil, fmt.Errorf("mass uncertainties must be positive (got %g, %g)", m2σ, mnsσ)
	}
	m2Dist, err := s.gaussian(m2, m2σ)
	if err != nil {
		return nil, nil, err
	}
	mnsDist, err := s.gaussian(mns, mnsσ)
	if err != nil {
		return nil, nil, err
	}
	M2 = make([]float64, n)
	Mns = make([]float64, n)
	for i := 0; i < n; i++ {
		for M2[i] <= 0 {
			M2[i] = m2Dist.Rand(nil)[0]
		}
		for Mns[i] <= 0 {
			Mns[i] = mnsDist.Rand(nil)[0]
		}
	}
	return M2, Mns, nil
}

// SampleSeparation draws pre-kick semi-major axes log-uniformly between
// aMin and aMax (solar radii).
func (s *Sampler) SampleSeparation(n int, aMin, aMax float64) ([]float64, error) {
	if err := checkCount(n); err != nil {
		return nil, err
	}
	if aMin <= 0 || aMax <= aMin {
		return nil, fmt.Errorf("invalid separation range [%g, %g]", aMin, aMax)
	}
	lnMin, lnMax := math.Log(aMin), math.Log(aMax)
	a := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = math.Exp(lnMin + s.rng.Float64()*(lnMax-lnMin))
	}
	return a, nil
}

// SampleHeliumMass draws the pre-supernova helium star mass conditionally on
// the paired remnant mass draw: uniform in [Mns_i, mheMax], never below the
// remnant it collapses into.
func (s *Sampler) SampleHeliumMass(mns []float64, mheMax float64) ([]float64, error) {
	if len(mns) == 0 {
		return nil, errors.New("empty remnant mass sequence")
	}
	if mheMax <= 0 {
		return nil, fmt.Errorf("maximum helium star mass must be positive (got %g)", mheMax)
	}
	mhe := make([]float64, len(mns))
	for i, m := range mns {
		hi := mheMax
		if hi < m {
			hi = m
		}
		mhe[i] = m + s.rng.Float64()*(hi-m)
	}
	return mhe, nil
}

// SampleKick draws natal kick speeds from a Maxwellian of dispersion σ
// (km/s), i.e. the norm of three iid N(0, σ²) components.
func (s *Sampler) SampleKick(n int, σ float64) ([]float64, error) {
	if err := checkCount(n); err != nil {
		return nil, err
	}
	if σ < 0 {
		return nil, fmt.Errorf("kick dispersion may not be negative (got %g)", σ)
	}
	v := make([]float64, n)
	if σ == 0 {
		return v, nil
	}
	kick, ok := distmv.NewNormal([]float64{0, 0, 0}, mat64.NewSymDense(3, []float64{σ * σ, 0, 0, 0, σ * σ, 0, 0, 0, σ * σ}), s.rng)
	if !ok {
		return nil, fmt.Errorf("cannot build Maxwellian with σ=%g", σ)
	}
	for i := 0; i < n; i++ {
		v[i] = norm(kick.Rand(nil))
	}
	return v, nil
}

// RadialCDF is the inverted cumulative stellar mass profile of a galaxy,
// built once from the potential and reused across all trials.
type RadialCDF struct {
	radii []float64 // kpc, ascending
	cdf   []float64 // in [0, 1], ascending
}

// NewRadialCDF numerically normalizes the stellar (bulge + disk) enclosed
// mass profile of the potential on a log-spaced grid out to rMax.
func NewRadialCDF(p *GalaxyPotential, rMax float64, bins int) (*RadialCDF, error) {
	if p == nil {
		return nil, errors.New("nil potential")
	}
	if rMax <= 0 {
		return nil, fmt.Errorf("rMax must be positive (got %g)", rMax)
	}
	if bins < 2 {
		return nil, fmt.Errorf("need at least two bins (got %d)", bins)
	}
	total := p.StellarMass(rMax)
	if total <= 0 {
		return nil, errors.New("no stellar mass within rMax")
	}
	rMin := rMax * 1e-4
	lnMin, lnMax := math.Log(rMin), math.Log(rMax)
	c := &RadialCDF{radii: make([]float64, bins), cdf: make([]float64, bins)}
	for i := 0; i < bins; i++ {
		r := math.Exp(lnMin + float64(i)/float64(bins-1)*(lnMax-lnMin))
		c.radii[i] = r
		c.cdf[i] = p.StellarMass(r) / total
	}
	c.cdf[bins-1] = 1
	return c, nil
}

// Sample inverse-transform draws n galactocentric radii (kpc).
func (c *RadialCDF) Sample(s *Sampler, n int) ([]float64, error) {
	if err := checkCount(n); err != nil {
		return nil, err
	}
	r := make([]float64, n)
	for i := 0; i < n; i++ {
		u := s.rng.Float64()
		j := sort.SearchFloat64s(c.cdf, u)
		switch {
		case j == 0:
			r[i] = c.radii[0]
		case j >= len(c.cdf):
			r[i] = c.radii[len(c.radii)-1]
		default:
			// Linear interpolation within the bracketing bin.
			f := (u - c.cdf[j-1]) / (c.cdf[j] - c.cdf[j-1])
			if math.IsNaN(f) || math.IsInf(f, 0) {
				f = 0
			}
			r[i] = c.radii[j-1] + f*(c.radii[j]-c.radii[j-1])
		}
	}
	return r, nil
}
