package astrotraj

import (
	"fmt"
	"math"
	"math/rand"
)

// Flag is the terminal per-trial outcome classifier.
type Flag uint8

const (
	// FlagNonMatch: the binary merged, but outside the allowed offset window.
	FlagNonMatch Flag = iota
	// FlagMatch: the projected merger offset matches the observation.
	FlagMatch
	// FlagStalled: the inspiral time exceeds the age cutoff; no merger.
	FlagStalled
	// FlagDisrupted: the kick unbound the binary.
	FlagDisrupted
	// FlagNumerical: a non-finite intermediate value or integration failure.
	FlagNumerical
)

func (f Flag) String() string {
	switch f {
	case FlagNonMatch:
		return "non-match"
	case FlagMatch:
		return "match"
	case FlagStalled:
		return "stalled"
	case FlagDisrupted:
		return "disrupted"
	case FlagNumerical:
		return "numerical"
	default:
		return fmt.Sprintf("flag(%d)", uint8(f))
	}
}

// Inputs is one trial's sampled tuple. Masses in Msun, Apre in Rsun,
// Vkick in km/s, R in kpc.
type Inputs struct {
	M2, Mns, Mhe, Apre, Vkick, R float64
}

// Trial progression markers, used to emit only the fields populated before
// an early termination.
const (
	stageNew = iota
	stageKicked
	stageTimed
	stagePlaced
	stageIntegrated
)

// Trial owns the full state of one Monte Carlo iteration. It is constructed,
// run to a terminal flag and emitted by the driver; no state is shared
// across iterations.
type Trial struct {
	Inputs
	Epre         float64 // pre-kick eccentricity, zero by construction
	Apost, Epost float64 // post-kick orbital elements, Rsun
	GalCosθ      float64 // cosine of the placement polar angle
	Galφ         float64 // placement azimuth
	Pos, Vel     []float64
	Tmerge       float64 // gravitational-wave inspiral time, seconds
	Rmerge       float64 // galactocentric distance at merger, kpc
	RmergeProj   float64 // sky-projected distance at merger, kpc
	Vfinal       float64 // speed at merger, km/s
	DEfrac       float64 // fractional energy non-conservation
	Flag         Flag

	vsys  []float64 // post-kick systemic velocity in the binary frame
	stage int
	pot   *GalaxyPotential
	rng   *rand.Rand
}

// NewTrial returns a trial bound to the potential and its own random source.
func NewTrial(pot *GalaxyPotential, in Inputs, rng *rand.Rand) *Trial {
	return &Trial{Inputs: in, pot: pot, rng: rng}
}

// Run executes the fixed pipeline order: kick, merger time, placement,
// trajectory, classification. It terminates at the first terminal flag.
func (t *Trial) Run(offset, offsetσ float64, integ Integrator) {
	if !t.Kick() {
		return
	}
	if !t.MergerTime() {
		return
	}
	t.Place()
	if !t.Integrate(integ) {
		return
	}
	t.Classify(offset, offsetσ)
}

// Kick applies the supernova natal kick to the circular pre-kick orbit.
// The helium star of mass Mhe collapses into the remnant of mass Mns and the
// remnant receives an isotropically oriented velocity impulse. Post-kick
// semi-major axis and eccentricity follow from conservation of orbital
// energy and angular momentum. Returns false on disruption or a non-finite
// intermediate.
func (t *Trial) Kick() bool {
	if t.Apre <= 0 || t.M2 <= 0 || t.Mns <= 0 || t.Mhe < t.Mns {
		t.Flag = FlagNumerical
		return false
	}
	aKm := t.Apre * RsunKm
	mPre := t.Mhe + t.M2
	mPost := t.Mns + t.M2
	// Pre-kick relative orbital speed, along ŷ; separation along x̂.
	vRel := math.Sqrt(GMsun * mPre / aKm)

	cosθ := 2*t.rng.Float64() - 1
	sinθ := math.Sqrt(1 - cosθ*cosθ)
	φ := 2 * math.Pi * t.rng.Float64()
	sinφ, cosφ := math.Sincos(φ)

	// Post-kick relative velocity of the remnant about the companion.
	vx := t.Vkick * sinθ * cosφ
	vy := vRel + t.Vkick*cosθ
	vz := t.Vkick * sinθ * sinφ
	v2 := vx*vx + vy*vy + vz*vz

	// Specific orbital energy; non-negative means unbound.
	ξ := v2/2 - GMsun*mPost/aKm
	if math.IsNaN(ξ) || math.IsInf(ξ, 0) {
		t.Flag = FlagNumerical
		return false
	}
	if ξ >= 0 {
		t.Flag = FlagDisrupted
		return false
	}
	aPostKm := -GMsun * mPost / (2 * ξ)
	// Specific angular momentum: r x v with r = aKm x̂.
	h2 := aKm * aKm * (vy*vy + vz*vz)
	e2 := 1 - h2/(GMsun*mPost*aPostKm)
	if e2 < 0 {
		e2 = 0
	}
	t.Apost = aPostKm / RsunKm
	t.Epost = math.Sqrt(e2)

	// Center-of-mass recoil from instantaneous mass loss plus the kick
	// (binary frame: separation x̂, orbital motion ŷ).
	t.vsys = []float64{
		t.Mns * t.Vkick * sinθ * cosφ / mPost,
		(t.Mns*t.Vkick*cosθ + vRel*t.M2*(t.Mns-t.Mhe)/mPre) / mPost,
		t.Mns * t.Vkick * sinθ * sinφ / mPost,
	}
	if !finite(t.vsys) || math.IsNaN(t.Epost) {
		t.Flag = FlagNumerical
		return false
	}
	t.stage = stageKicked
	return true
}

// MergerTime computes the gravitational-wave inspiral time of the post-kick
// orbit (Peters 1964, with the (1-e²)^{7/2} eccentricity scaling). Returns
// false if the binary does not evolve within the age cutoff.
func (t *Trial) MergerTime() bool {
	aKm := t.Apost * RsunKm
	m1, m2 := t.Mns, t.M2
	β := (64. / 5.) * GMsun * GMsun * GMsun * m1 * m2 * (m1 + m2) / math.Pow(SpeedOfLight, 5)
	t.Tmerge = math.Pow(aKm, 4) / (4 * β) * math.Pow(1-t.Epost*t.Epost, 3.5)
	if math.IsNaN(t.Tmerge) || math.IsInf(t.Tmerge, 0) || t.Tmerge <= 0 {
		t.Flag = FlagNumerical
		return false
	}
	t.stage = stageTimed
	if t.Tmerge > MaxInspiralAge {
		t.Flag = FlagStalled
		return false
	}
	return true
}

// Place puts the system at an isotropically random point on the sphere of
// radius R, moving at the local circular speed in a random direction
// perpendicular to the radius vector, plus the systemic kick velocity in a
// random orientation.
func (t *Trial) Place() {
	t.GalCosθ = 2*t.rng.Float64() - 1
	t.Galφ = 2 * math.Pi * t.rng.Float64()
	θ := math.Acos(t.GalCosθ)
	rHat := Spherical2Cartesian([]float64{1, θ, t.Galφ})
	t.Pos = []float64{t.R * rHat[0], t.R * rHat[1], t.R * rHat[2]}

	// Tangent basis at the placement point.
	e1 := unit(cross(rHat, []float64{0, 0, 1}))
	if norm(e1) == 0 {
		// Placement along the pole.
		e1 = []float64{1, 0, 0}
	}
	e2 := cross(rHat, e1)
	ψ := 2 * math.Pi * t.rng.Float64()
	sinψ, cosψ := math.Sincos(ψ)
	vc := t.pot.VCirc(t.R)

	// Random isotropic orientation of the binary frame in the galaxy frame.
	α := 2 * math.Pi * t.rng.Float64()
	β := math.Acos(2*t.rng.Float64() - 1)
	γ := 2 * math.Pi * t.rng.Float64()
	vsysGal := Rot313Vec(α, β, γ, t.vsys)

	t.Vel = make([]float64, 3)
	for i := 0; i < 3; i++ {
		t.Vel[i] = vc*(cosψ*e1[i]+sinψ*e2[i]) + vsysGal[i]
	}
	t.stage = stagePlaced
}

// Integrate advances the center of mass through the galactic potential from
// t=0 to Tmerge and records the energy conservation diagnostic. Returns
// false on integration failure.
func (t *Trial) Integrate(integ Integrator) bool {
	e0 := 0.5*dot(t.Vel, t.Vel) + t.pot.Potential(norm(t.Pos))
	pos, vel, err := integ.Integrate(t.pot, t.Pos, t.Vel, t.Tmerge)
	if err != nil {
		t.Flag = FlagNumerical
		return false
	}
	t.Pos, t.Vel = pos, vel
	e1 := 0.5*dot(vel, vel) + t.pot.Potential(norm(pos))
	t.DEfrac = math.Abs((e1 - e0) / e0)
	if math.IsNaN(t.DEfrac) || math.IsInf(t.DEfrac, 0) {
		t.Flag = FlagNumerical
		return false
	}
	t.stage = stageIntegrated
	return true
}

// Classify compares the sky-projected merger offset to the observed one.
// The line of sight is fixed along the galaxy-frame z axis for the whole run.
func (t *Trial) Classify(offset, offsetσ float64) {
	t.Rmerge = norm(t.Pos)
	t.RmergeProj = math.Hypot(t.Pos[0], t.Pos[1])
	t.Vfinal = norm(t.Vel)
	if math.Abs(t.RmergeProj-offset) <= offsetσ {
		t.Flag = FlagMatch
	} else {
		t.Flag = FlagNonMatch
	}
}

// CSV returns the output row (no trailing newline). Fields which were never
// populated before an early termination are emitted as empty cells.
func (t *Trial) CSV() string {
	f := func(v float64) string { return fmt.Sprintf("%.8g", v) }
	cols := make([]string, 0, 17)
	cols = append(cols, f(t.M2), f(t.Mns), f(t.Mhe), f(t.Apre))
	if t.stage >= stageKicked {
		cols = append(cols, f(t.Apost))
	} else {
		cols = append(cols, "")
	}
	cols = append(cols, f(t.Epre))
	if t.stage >= stageKicked {
		cols = append(cols, f(t.Epost))
	} else {
		cols = append(cols, "")
	}
	cols = append(cols, f(t.R))
	if t.stage >= stagePlaced {
		cols = append(cols, f(t.GalCosθ), f(t.Galφ))
	} else {
		cols = append(cols, "", "")
	}
	cols = append(cols, f(t.Vkick))
	if t.stage >= stageTimed {
		cols = append(cols, f(t.Tmerge/SecPerGyr))
	} else {
		cols = append(cols, "")
	}
	if t.stage >= stageIntegrated {
		cols = append(cols, f(t.Rmerge), f(t.RmergeProj), f(t.Vfinal), f(t.DEfrac))
	} else {
		cols = append(cols, "", "", "", "")
	}
	cols = append(cols, fmt.Sprintf("%d", t.Flag))
	out := cols[0]
	for _, c := range cols[1:] {
		out += "," + c
	}
	return out
}
