package astrotraj

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChristopherRabotin/ode"
)

// Integrator advances a center-of-mass state through a field from t=0 to tEnd
// (seconds). Implementations must surface unreachable end times as errors,
// never as silent truncation.
type Integrator interface {
	Integrate(field Field, pos, vel []float64, tEnd float64) (fPos, fVel []float64, err error)
}

// deriv writes the equations of motion into f: positions in kpc, velocities
// in km/s, time in seconds.
func deriv(field Field, s, f []float64) {
	f[0] = s[3] / KmPerKpc
	f[1] = s[4] / KmPerKpc
	f[2] = s[5] / KmPerKpc
	r := math.Sqrt(s[0]*s[0] + s[1]*s[1] + s[2]*s[2])
	if r == 0 {
		f[3], f[4], f[5] = 0, 0, 0
		return
	}
	g := field.Accel(r)
	f[3] = -g * s[0] / r
	f[4] = -g * s[1] / r
	f[5] = -g * s[2] / r
}

// Dormand-Prince 4(5) coefficients.
var (
	dpA2, dpA3, dpA4, dpA5 = 1 / 5., 3 / 10., 4 / 5., 8 / 9.

	dpB21                             = 1 / 5.
	dpB31, dpB32                      = 3 / 40., 9 / 40.
	dpB41, dpB42, dpB43               = 44 / 45., -56 / 15., 32 / 9.
	dpB51, dpB52, dpB53, dpB54        = 19372 / 6561., -25360 / 2187., 64448 / 6561., -212 / 729.
	dpB61, dpB62, dpB63, dpB64, dpB65 = 9017 / 3168., -355 / 33., 46732 / 5247., 49 / 176., -5103 / 18656.

	dpC1, dpC3, dpC4, dpC5, dpC6 = 35 / 384., 500 / 1113., 125 / 192., -2187 / 6784., 11 / 84.

	dpE1 = dpC1 - 5179/57600.
	dpE3 = dpC3 - 7571/16695.
	dpE4 = dpC4 - 393/640.
	dpE5 = dpC5 - -92097/339200.
	dpE6 = dpC6 - 187/2100.
	dpE7 = -1 / 40.
)

// Dopri is an adaptive Dormand-Prince 4(5) integrator. The step spans the
// many orders of magnitude between the kick-crossing time and gigayear-scale
// merger times while keeping the energy drift diagnostic meaningful.
type Dopri struct {
	Tol      float64 // relative error tolerance per step
	MaxSteps int     // hard ceiling on accepted+rejected steps
	safety   float64
	minScale float64
	maxScale float64
}

// NewDopri returns the integrator with the default tolerance.
func NewDopri() *Dopri {
	return &Dopri{Tol: 1e-11, MaxSteps: 20000000, safety: 0.9, minScale: 0.2, maxScale: 10}
}

// Integrate advances the state to tEnd.
func (d *Dopri) Integrate(field Field, pos, vel []float64, tEnd float64) ([]float64, []float64, error) {
	if tEnd <= 0 {
		return nil, nil, fmt.Errorf("end time must be positive (got %g)", tEnd)
	}
	s := []float64{pos[0], pos[1], pos[2], vel[0], vel[1], vel[2]}
	if !finite(s) {
		return nil, nil, errors.New("non-finite initial state")
	}

	// Initial step from the local dynamical time.
	r := norm(s[:3])
	v := norm(s[3:])
	dt := tEnd / 1e4
	if v > 0 && r > 0 {
		if τ := 2 * math.Pi * r * KmPerKpc / v / 1e3; τ < dt {
			dt = τ
		}
	}
	if dt > tEnd {
		dt = tEnd
	}

	k1 := make([]float64, 6)
	k2 := make([]float64, 6)
	k3 := make([]float64, 6)
	k4 := make([]float64, 6)
	k5 := make([]float64, 6)
	k6 := make([]float64, 6)
	k7 := make([]float64, 6)
	tmp := make([]float64, 6)
	next := make([]float64, 6)

	t := 0.0
	for steps := 0; t < tEnd; steps++ {
		if steps >= d.MaxSteps {
			return nil, nil, fmt.Errorf("end time unreachable within %d steps (t=%g of %g)", d.MaxSteps, t, tEnd)
		}
		if t+dt > tEnd {
			dt = tEnd - t
		}

		deriv(field, s, k1)
		for i := 0; i < 6; i++ {
			tmp[i] = s[i] + dt*dpB21*k1[i]
		}
		deriv(field, tmp, k2)
		for i := 0; i < 6; i++ {
			tmp[i] = s[i] + dt*(dpB31*k1[i]+dpB32*k2[i])
		}
		deriv(field, tmp, k3)
		for i := 0; i < 6; i++ {
			tmp[i] = s[i] + dt*(dpB41*k1[i]+dpB42*k2[i]+dpB43*k3[i])
		}
		deriv(field, tmp, k4)
		for i := 0; i < 6; i++ {
			tmp[i] = s[i] + dt*(dpB51*k1[i]+dpB52*k2[i]+dpB53*k3[i]+dpB54*k4[i])
		}
		deriv(field, tmp, k5)
		for i := 0; i < 6; i++ {
			tmp[i] = s[i] + dt*(dpB61*k1[i]+dpB62*k2[i]+dpB63*k3[i]+dpB64*k4[i]+dpB65*k5[i])
		}
		deriv(field, tmp, k6)
		for i := 0; i < 6; i++ {
			next[i] = s[i] + dt*(dpC1*k1[i]+dpC3*k3[i]+dpC4*k4[i]+dpC5*k5[i]+dpC6*k6[i])
		}
		deriv(field, next, k7)

		if !finite(next) {
			return nil, nil, fmt.Errorf("non-finite state at t=%g", t)
		}

		errMax := 0.0
		for i := 0; i < 6; i++ {
			errEst := dt * (dpE1*k1[i] + dpE3*k3[i] + dpE4*k4[i] + dpE5*k5[i] + dpE6*k6[i] + dpE7*k7[i])
			scale := math.Abs(s[i]) + math.Abs(dt*k1[i]) + 1e-30
			if e := math.Abs(errEst) / scale; e > errMax {
				errMax = e
			}
		}

		ratio := errMax / d.Tol
		if ratio > 1 {
			// Reject, shrink and retry.
			dt *= math.Max(d.minScale, d.safety*math.Pow(ratio, -0.25))
			continue
		}
		copy(s, next)
		t += dt
		if ratio > 0 {
			dt *= math.Min(d.maxScale, d.safety*math.Pow(ratio, -0.2))
		} else {
			dt *= d.maxScale
		}
	}
	return []float64{s[0], s[1], s[2]}, []float64{s[3], s[4], s[5]}, nil
}

// galTraj adapts a galactic trajectory to the ode.Integrable interface for
// the fixed-step RK4 path.
type galTraj struct {
	field      Field
	state      []float64
	t, tEnd, Δ float64
	err        error
}

// GetState gets the state.
func (g *galTraj) GetState() []float64 {
	s := make([]float64, 6)
	copy(s, g.state)
	return s
}

// SetState sets the next state and increments the integration time.
func (g *galTraj) SetState(t float64, s []float64) {
	copy(g.state, s)
	if !finite(g.state) {
		g.err = fmt.Errorf("non-finite state at t=%g", g.t)
	}
	g.t += g.Δ
}

// Stop returns whether the integration is done.
func (g *galTraj) Stop(t float64) bool {
	return g.err != nil || g.t >= g.tEnd
}

// Func is the integration function.
func (g *galTraj) Func(t float64, s []float64) []float64 {
	f := make([]float64, 6)
	deriv(g.field, s, f)
	return f
}

// RK4 integrates with a fixed step via the ode package. Used for
// cross-checking the adaptive path; Steps is the total step count over tEnd.
type RK4 struct {
	Steps int
}

// NewRK4 returns the fixed-step integrator with a default resolution.
func NewRK4() *RK4 {
	return &RK4{Steps: 500000}
}

// Integrate advances the state to tEnd.
func (r *RK4) Integrate(field Field, pos, vel []float64, tEnd float64) ([]float64, []float64, error) {
	if tEnd <= 0 {
		return nil, nil, fmt.Errorf("end time must be positive (got %g)", tEnd)
	}
	if r.Steps <= 0 {
		return nil, nil, fmt.Errorf("step count must be positive (got %d)", r.Steps)
	}
	g := &galTraj{
		field: field,
		state: []float64{pos[0], pos[1], pos[2], vel[0], vel[1], vel[2]},
		tEnd:  tEnd,
		Δ:     tEnd / float64(r.Steps),
	}
	if !finite(g.state) {
		return nil, nil, errors.New("non-finite initial state")
	}
	ode.NewRK4(0, g.Δ, g).Solve()
	if g.err != nil {
		return nil, nil, g.err
	}
	return g.state[:3], g.state[3:], nil
}
