package astrotraj

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	kitlog "github.com/go-kit/kit/log"
)

// TrialInputs are the pre-drawn sampler sequences, one element per trial.
type TrialInputs struct {
	M2, Mns, Mhe, Apre, Vkick, R []float64
}

// Len returns the number of trials the sequences cover.
func (in TrialInputs) Len() int { return len(in.M2) }

// At returns the i-th sampled tuple.
func (in TrialInputs) At(i int) Inputs {
	return Inputs{M2: in.M2[i], Mns: in.Mns[i], Mhe: in.Mhe[i], Apre: in.Apre[i], Vkick: in.Vkick[i], R: in.R[i]}
}

func (in TrialInputs) validate() error {
	n := in.Len()
	if n == 0 {
		return fmt.Errorf("no trial inputs")
	}
	for _, seq := range [][]float64{in.Mns, in.Mhe, in.Apre, in.Vkick, in.R} {
		if len(seq) != n {
			return fmt.Errorf("input sequences have mismatched lengths")
		}
	}
	return nil
}

// RunConfig configures one Monte Carlo run.
type RunConfig struct {
	Offset  float64 // observed projected offset, kpc
	Offsetσ float64 // combined offset uncertainty, kpc
	Seed    int64   // base seed; trial i uses Seed+i
	CPUs    int     // worker count; <=0 means all CPUs
}

// RunStats summarizes a completed run.
type RunStats struct {
	Trials    int
	Flags     [5]int
	MaxDEfrac float64 // maximum fractional energy drift across integrated trials
}

// Run executes the trial loop: fan-out over a worker pool, fan-in through a
// single CSV writer. Each trial gets its own random source seeded from the
// base seed and its index, so outcomes are deterministic regardless of the
// worker count. Per-trial physical failures are recorded, never raised; only
// sink errors abort the run.
func Run(cfg RunConfig, pot *GalaxyPotential, in TrialInputs, newInteg func() Integrator, sink *CSVSink, logger kitlog.Logger) (RunStats, error) {
	var stats RunStats
	if err := in.validate(); err != nil {
		return stats, err
	}
	n := in.Len()
	cpus := cfg.CPUs
	if cpus <= 0 || cpus > runtime.NumCPU() {
		cpus = runtime.NumCPU()
	}
	logger.Log("level", "info", "subsys", "run", "trials", n, "cpus", cpus, "offset(kpc)", cfg.Offset, "offsetσ(kpc)", cfg.Offsetσ)

	jobs := make(chan int, cpus)
	results := make(chan *Trial, 1000)

	var wg sync.WaitGroup
	for w := 0; w < cpus; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			integ := newInteg()
			for i := range jobs {
				trial := NewTrial(pot, in.At(i), rand.New(rand.NewSource(cfg.Seed+int64(i))))
				trial.Run(cfg.Offset, cfg.Offsetσ, integ)
				results <- trial
			}
		}()
	}

	var collectWg sync.WaitGroup
	var sinkErr error
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for trial := range results {
			stats.Trials++
			stats.Flags[trial.Flag]++
			if trial.stage >= stageIntegrated && trial.DEfrac > stats.MaxDEfrac {
				stats.MaxDEfrac = trial.DEfrac
			}
			if sinkErr == nil {
				sinkErr = sink.Write(trial)
			}
		}
	}()

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)
	collectWg.Wait()

	if sinkErr != nil {
		return stats, fmt.Errorf("output sink: %s", sinkErr)
	}
	logger.Log("level", "notice", "subsys", "run", "status", "finished",
		"non-match", stats.Flags[FlagNonMatch], "match", stats.Flags[FlagMatch],
		"stalled", stats.Flags[FlagStalled], "disrupted", stats.Flags[FlagDisrupted],
		"numerical", stats.Flags[FlagNumerical], "maxdEfrac", stats.MaxDEfrac)
	return stats, nil
}

// DrawInputs runs every sampler once and assembles the per-trial sequences.
func DrawInputs(s *Sampler, pot *GalaxyPotential, n int, post PosteriorSummary, aMin, aMax, mheMax, kickσ, rMax float64) (TrialInputs, error) {
	var in TrialInputs
	var err error
	// Convention: the heavier posterior component is the companion.
	if in.M2, in.Mns, err = s.SampleMasses(n, post.M1, post.M1σ, post.M2, post.M2σ); err != nil {
		return in, err
	}
	if in.Mhe, err = s.SampleHeliumMass(in.Mns, mheMax); err != nil {
		return in, err
	}
	if in.Apre, err = s.SampleSeparation(n, aMin, aMax); err != nil {
		return in, err
	}
	if in.Vkick, err = s.SampleKick(n, kickσ); err != nil {
		return in, err
	}
	cdf, err := NewRadialCDF(pot, rMax, 2000)
	if err != nil {
		return in, err
	}
	if in.R, err = cdf.Sample(s, n); err != nil {
		return in, err
	}
	return in, nil
}
