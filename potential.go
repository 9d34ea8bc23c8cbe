package astrotraj

import (
	"fmt"
	"math"
)

const (
	// G is the gravitational constant in kpc (km/s)^2 / Msun.
	G = 4.30091e-6
	// GMsun is the heliocentric gravitational parameter in km^3/s^2.
	GMsun = 1.32712440018e11
	// SpeedOfLight is the speed of light in km/s.
	SpeedOfLight = 299792.458
	// RsunKm is one solar radius in kilometers.
	RsunKm = 6.957e5
	// KmPerKpc is one kiloparsec in kilometers.
	KmPerKpc = 3.0856775814913673e16
	// SecPerGyr is one gigayear in seconds (Julian years).
	SecPerGyr = 3.15576e16
	// MaxInspiralAge is the age cutoff beyond which a binary is considered non-evolving.
	MaxInspiralAge = 10 * SecPerGyr

	// A Hernquist profile encloses half its mass at R_eff = 1.8153 a.
	hernquistReFactor = 1.8153
	// An exponential profile encloses half its mass at R_eff = 1.678 r_d.
	expDiskReFactor = 1.678
	// DefaultConcentration is the NFW halo concentration used when unset.
	DefaultConcentration = 10.0
	// DefaultHubble is H0 in km/s/kpc (70 km/s/Mpc).
	DefaultHubble = 0.07
)

// Field provides a spherically symmetric force law. The galactic potential
// implements it, and so does the point mass used in the Kepler checks.
type Field interface {
	Potential(r float64) float64 // specific potential in (km/s)^2, r in kpc
	Accel(r float64) float64     // inward radial acceleration magnitude in km/s^2, r in kpc
}

// GalaxyPotential superposes a Hernquist bulge, a truncated NFW halo and a
// spherically averaged exponential disk. Immutable once constructed.
type GalaxyPotential struct {
	Mbulge, Mhalo, Mdisk float64 // Msun
	Reff                 float64 // effective (half-light) radius in kpc
	Hubble               float64 // km/s/kpc
	Rtrunc               float64 // halo truncation radius in kpc
	Concentration        float64

	aBulge float64 // Hernquist scale length
	rDisk  float64 // exponential disk scale length
	rsHalo float64 // NFW scale radius
	mOfC   float64 // NFW mass function at the truncation radius
}

// NewGalaxyPotential returns the potential for the provided structural
// parameters. The halo truncation radius is set to r200 derived from the
// halo mass and the Hubble parameter.
func NewGalaxyPotential(mbulge, mhalo, mdisk, reff, hubble float64) (*GalaxyPotential, error) {
	if mbulge <= 0 || mhalo <= 0 {
		return nil, fmt.Errorf("bulge and halo masses must be positive (got %g, %g)", mbulge, mhalo)
	}
	if mdisk < 0 {
		return nil, fmt.Errorf("disk mass may not be negative (got %g)", mdisk)
	}
	if reff <= 0 {
		return nil, fmt.Errorf("effective radius must be positive (got %g)", reff)
	}
	if hubble <= 0 {
		hubble = DefaultHubble
	}
	p := &GalaxyPotential{
		Mbulge:        mbulge,
		Mhalo:         mhalo,
		Mdisk:         mdisk,
		Reff:          reff,
		Hubble:        hubble,
		Concentration: DefaultConcentration,
		aBulge:        reff / hernquistReFactor,
		rDisk:         reff / expDiskReFactor,
	}
	// r200: the radius enclosing a mean density of 200 rho_crit,
	// M = 100 H^2 r^3 / G.
	p.Rtrunc = math.Cbrt(G * mhalo / (100 * hubble * hubble))
	p.rsHalo = p.Rtrunc / p.Concentration
	p.mOfC = nfwMass(p.Concentration)
	return p, nil
}

// nfwMass is the dimensionless NFW mass function m(x) = ln(1+x) - x/(1+x).
func nfwMass(x float64) float64 {
	return math.Log(1+x) - x/(1+x)
}

// EnclosedMass returns the total mass enclosed within radius r (kpc), in Msun.
func (p GalaxyPotential) EnclosedMass(r float64) float64 {
	return p.bulgeMass(r) + p.haloMass(r) + p.diskMass(r)
}

// StellarMass returns the stellar (bulge + disk) mass enclosed within r.
// The halo is dark matter and does not seed binaries.
func (p GalaxyPotential) StellarMass(r float64) float64 {
	return p.bulgeMass(r) + p.diskMass(r)
}

func (p GalaxyPotential) bulgeMass(r float64) float64 {
	return p.Mbulge * r * r / math.Pow(r+p.aBulge, 2)
}

func (p GalaxyPotential) haloMass(r float64) float64 {
	if r >= p.Rtrunc {
		return p.Mhalo
	}
	return p.Mhalo * nfwMass(r/p.rsHalo) / p.mOfC
}

func (p GalaxyPotential) diskMass(r float64) float64 {
	if p.Mdisk == 0 {
		return 0
	}
	x := r / p.rDisk
	return p.Mdisk * (1 - math.Exp(-x)*(1+x+x*x/2))
}

// Potential returns the specific gravitational potential at r in (km/s)^2.
// Continuous and finite for all r >= 0.
func (p GalaxyPotential) Potential(r float64) float64 {
	// Hernquist bulge
	φ := -G * p.Mbulge / (r + p.aBulge)
	// Truncated NFW halo: point mass beyond Rtrunc, matched at the boundary.
	if r >= p.Rtrunc {
		φ += -G * p.Mhalo / r
	} else {
		var inner float64
		if r > 0 {
			inner = math.Log(1+r/p.rsHalo) / r
		} else {
			inner = 1 / p.rsHalo
		}
		φ += -G*p.Mhalo/p.mOfC*(inner-math.Log(1+p.Concentration)/p.Rtrunc) - G*p.Mhalo/p.Rtrunc
	}
	// Spherically averaged exponential disk
	if p.Mdisk > 0 {
		x := r / p.rDisk
		var encOverR float64
		if r > 0 {
			encOverR = p.diskMass(r) / r
		}
		φ += -G*encOverR - G*p.Mdisk*math.Exp(-x)*(1+x)/(2*p.rDisk)
	}
	return φ
}

// Accel returns the magnitude of the inward radial acceleration at r, in km/s^2.
func (p GalaxyPotential) Accel(r float64) float64 {
	if r <= 0 {
		return 0
	}
	return G * p.EnclosedMass(r) / (r * r) / KmPerKpc
}

// VCirc returns the circular speed at r in km/s.
func (p GalaxyPotential) VCirc(r float64) float64 {
	if r <= 0 {
		return 0
	}
	return math.Sqrt(G * p.EnclosedMass(r) / r)
}

// PointMass is a Keplerian field, used to validate the trajectory integrator
// against the analytic two-body problem.
type PointMass struct {
	M float64 // Msun
}

// Potential returns -GM/r in (km/s)^2.
func (p PointMass) Potential(r float64) float64 {
	if r == 0 {
		return math.Inf(-1)
	}
	return -G * p.M / r
}

// Accel returns GM/r^2 in km/s^2.
func (p PointMass) Accel(r float64) float64 {
	if r <= 0 {
		return 0
	}
	return G * p.M / (r * r) / KmPerKpc
}
