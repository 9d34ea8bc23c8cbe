package astrotraj

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/gonum/floats"
)

func TestKickUnkickedNeverDisrupts(t *testing.T) {
	p := testPotential(t)
	for seed := int64(0); seed < 50; seed++ {
		for _, apre := range []float64{0.01, 0.1, 1, 10, 100, 1e4} {
			in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: apre, Vkick: 0, R: 3}
			trial := NewTrial(p, in, rand.New(rand.NewSource(seed)))
			if !trial.Kick() {
				t.Fatalf("zero kick disrupted a bound binary (Apre=%g, flag=%s)", apre, trial.Flag)
			}
			if trial.Apost <= 0 {
				t.Fatalf("non-positive Apost=%g for Apre=%g", trial.Apost, apre)
			}
			if trial.Epost < 0 || trial.Epost >= 1 {
				t.Fatalf("eccentricity out of [0,1): %g", trial.Epost)
			}
		}
	}
}

func TestKickMassLossDisrupts(t *testing.T) {
	p := testPotential(t)
	// Blaauw: losing half or more of the system mass unbinds a circular
	// orbit with no kick at all. The threshold is Mhe = 2*Mns + M2.
	for seed := int64(0); seed < 20; seed++ {
		for _, mhe := range []float64{4.1, 5.0, 8.0} {
			in := Inputs{M2: 1.3, Mns: 1.4, Mhe: mhe, Apre: 1, Vkick: 0, R: 3}
			trial := NewTrial(p, in, rand.New(rand.NewSource(seed)))
			if trial.Kick() {
				t.Fatalf("mass loss of %g Msun left the binary bound", mhe-1.4)
			}
			if trial.Flag != FlagDisrupted {
				t.Fatalf("expected disruption, got %s", trial.Flag)
			}
		}
	}
}

func TestKickBoundDichotomy(t *testing.T) {
	p := testPotential(t)
	rng := rand.New(rand.NewSource(1))
	bound, unbound := 0, 0
	for i := 0; i < 5000; i++ {
		in := Inputs{
			M2:    1.0 + rng.Float64(),
			Mns:   1.2 + 0.4*rng.Float64(),
			Apre:  math.Exp(math.Log(0.1) + rng.Float64()*math.Log(100)),
			Vkick: 600 * rng.Float64(),
			R:     3,
		}
		in.Mhe = in.Mns + 6*rng.Float64()
		trial := NewTrial(p, in, rand.New(rand.NewSource(int64(i))))
		if trial.Kick() {
			bound++
			if trial.Apost <= 0 {
				t.Fatalf("bound orbit with Apost=%g", trial.Apost)
			}
			if trial.Epost < 0 || trial.Epost >= 1 {
				t.Fatalf("bound orbit with epost=%g", trial.Epost)
			}
		} else {
			unbound++
			if trial.Flag != FlagDisrupted {
				t.Fatalf("kick failure with unexpected flag %s", trial.Flag)
			}
			if trial.stage != stageNew {
				t.Fatal("disrupted trial populated post-kick fields")
			}
		}
	}
	if bound == 0 || unbound == 0 {
		t.Fatalf("degenerate kick sample: %d bound, %d unbound", bound, unbound)
	}
}

func TestKickExtremeDisrupts(t *testing.T) {
	p := testPotential(t)
	for seed := int64(0); seed < 100; seed++ {
		in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: 10, Vkick: 5000, R: 3}
		trial := NewTrial(p, in, rand.New(rand.NewSource(seed)))
		if trial.Kick() {
			t.Fatalf("5000 km/s kick left the binary bound (seed %d)", seed)
		}
		if trial.Flag != FlagDisrupted {
			t.Fatalf("expected disruption, got %s", trial.Flag)
		}
	}
}

func TestKickRejectsInvalidInputs(t *testing.T) {
	p := testPotential(t)
	in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: 0, Vkick: 0, R: 3}
	trial := NewTrial(p, in, rand.New(rand.NewSource(0)))
	if trial.Kick() {
		t.Fatal("zero separation accepted")
	}
	if trial.Flag != FlagNumerical {
		t.Fatalf("expected numerical flag, got %s", trial.Flag)
	}
}

func TestMergerTimeScaling(t *testing.T) {
	p := testPotential(t)
	mk := func(apost, epost float64) *Trial {
		trial := NewTrial(p, Inputs{M2: 1.3, Mns: 1.4}, rand.New(rand.NewSource(0)))
		trial.Apost = apost
		trial.Epost = epost
		return trial
	}
	// Strictly increasing in semi-major axis at fixed eccentricity.
	prev := 0.0
	for _, a := range []float64{0.5, 1, 2, 4, 8} {
		trial := mk(a, 0)
		trial.MergerTime()
		if trial.Tmerge <= prev {
			t.Fatalf("Tmerge not increasing with Apost: %g <= %g at a=%g", trial.Tmerge, prev, a)
		}
		prev = trial.Tmerge
	}
	// (1-e²)^{7/2} eccentricity scaling at fixed semi-major axis.
	circ := mk(2, 0)
	circ.MergerTime()
	ecc := mk(2, 0.9)
	ecc.MergerTime()
	want := circ.Tmerge * math.Pow(1-0.81, 3.5)
	if !floats.EqualWithinAbs(ecc.Tmerge, want, want*1e-12) {
		t.Fatalf("eccentricity scaling off: %g != %g", ecc.Tmerge, want)
	}
	if ecc.Tmerge >= circ.Tmerge {
		t.Fatal("eccentric orbit outlived the circular one")
	}
	// A double neutron star at ~4.3 Rsun coalesces in about 10 Gyr.
	dns := mk(4.3, 0)
	dns.MergerTime()
	if dns.Tmerge < 5*SecPerGyr || dns.Tmerge > 20*SecPerGyr {
		t.Fatalf("implausible coalescence time for 4.3 Rsun DNS: %g Gyr", dns.Tmerge/SecPerGyr)
	}
}

func TestMergerTimeCutoff(t *testing.T) {
	p := testPotential(t)
	trial := NewTrial(p, Inputs{M2: 1.3, Mns: 1.4}, rand.New(rand.NewSource(0)))
	trial.Apost = 100 // far too wide to merge
	if trial.MergerTime() {
		t.Fatal("100 Rsun DNS should not evolve within the age cutoff")
	}
	if trial.Flag != FlagStalled {
		t.Fatalf("expected stalled flag, got %s", trial.Flag)
	}
}

func TestPlacementIsotropy(t *testing.T) {
	p := testPotential(t)
	const n = 20000
	var sumCosθ, sumCos2θ, sumCosφ, sumSinφ float64
	for i := 0; i < n; i++ {
		in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: 1, Vkick: 50, R: 5}
		trial := NewTrial(p, in, rand.New(rand.NewSource(int64(i))))
		if !trial.Kick() {
			t.Fatalf("unexpected kick failure at seed %d", i)
		}
		trial.Place()
		if !floats.EqualWithinAbs(norm(trial.Pos), 5, 1e-9) {
			t.Fatalf("placement not on the sphere: |r|=%g", norm(trial.Pos))
		}
		sumCosθ += trial.GalCosθ
		sumCos2θ += trial.GalCosθ * trial.GalCosθ
		s, c := math.Sincos(trial.Galφ)
		sumCosφ += c
		sumSinφ += s
	}
	if mean := sumCosθ / n; math.Abs(mean) > 0.02 {
		t.Fatalf("polar bias: mean cosθ = %g", mean)
	}
	if second := sumCos2θ / n; math.Abs(second-1./3) > 0.02 {
		t.Fatalf("polar bias: <cos²θ> = %g, want 1/3", second)
	}
	if math.Abs(sumCosφ/n) > 0.02 || math.Abs(sumSinφ/n) > 0.02 {
		t.Fatalf("azimuthal bias: <cosφ>=%g <sinφ>=%g", sumCosφ/n, sumSinφ/n)
	}
}

func TestPlacementVelocity(t *testing.T) {
	p := testPotential(t)
	in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: 1, Vkick: 0, R: 5}
	trial := NewTrial(p, in, rand.New(rand.NewSource(3)))
	if !trial.Kick() {
		t.Fatal("unexpected kick failure")
	}
	trial.Place()
	// With a zero kick the only systemic contribution is the mass-loss
	// recoil; the circular component must be perpendicular to the radius.
	vc := p.VCirc(5)
	vsys := norm(trial.vsys)
	v := norm(trial.Vel)
	if v < vc-vsys-1e-9 || v > vc+vsys+1e-9 {
		t.Fatalf("speed %g outside [%g, %g]", v, vc-vsys, vc+vsys)
	}
}

func TestTrialCSVStages(t *testing.T) {
	p := testPotential(t)
	// Disrupted: post-kick and later fields must be empty cells.
	in := Inputs{M2: 1.3, Mns: 1.4, Mhe: 2.0, Apre: 10, Vkick: 5000, R: 3}
	trial := NewTrial(p, in, rand.New(rand.NewSource(0)))
	trial.Run(10, 0.5, NewDopri())
	cols := strings.Split(trial.CSV(), ",")
	if len(cols) != 17 {
		t.Fatalf("expected 17 columns, got %d", len(cols))
	}
	for _, idx := range []int{4, 6, 8, 9, 11, 12, 13, 14, 15} {
		if cols[idx] != "" {
			t.Fatalf("disrupted trial populated column %d: %q", idx, cols[idx])
		}
	}
	if cols[16] != "3" {
		t.Fatalf("expected flag 3, got %q", cols[16])
	}

	// Stalled: orbital elements and Tmerge populated, no trajectory fields.
	in = Inputs{M2: 1.3, Mns: 1.4, Mhe: 1.5, Apre: 1e4, Vkick: 0, R: 3}
	trial = NewTrial(p, in, rand.New(rand.NewSource(0)))
	trial.Run(10, 0.5, NewDopri())
	cols = strings.Split(trial.CSV(), ",")
	if cols[4] == "" || cols[11] == "" {
		t.Fatal("stalled trial missing Apost or Tmerge")
	}
	for _, idx := range []int{8, 9, 12, 13, 14, 15} {
		if cols[idx] != "" {
			t.Fatalf("stalled trial populated column %d: %q", idx, cols[idx])
		}
	}
	if cols[16] != "2" {
		t.Fatalf("expected flag 2, got %q", cols[16])
	}
}
