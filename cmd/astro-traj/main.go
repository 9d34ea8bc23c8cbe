package main

import (
	"fmt"
	"os"

	kitlog "github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	astrotraj "github.com/scottcoughlin2014/astro-traj"
)

var (
	scenario    string
	galaxy      string
	telescope   string
	posterior   string
	offset      float64
	offsetSigma float64
	reff        float64
	trials      int
	output      string
	integrator  string
	seed        int64
	cpus        int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "astro-traj",
		Short: "Monte Carlo population synthesis of kicked compact binaries",
		Long: `astro-traj tests whether a gravitational-wave/kilonova offset from its
host galaxy center is consistent with a binary formed, kicked and inspiraled
from that galaxy's stellar distribution.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the trial loop for a scenario",
		RunE:  runTrials,
	}
	runCmd.Flags().StringVar(&scenario, "scenario", "", "scenario TOML file")
	runCmd.Flags().StringVar(&galaxy, "galaxy", "", "galaxy name (overrides scenario)")
	runCmd.Flags().StringVar(&telescope, "telescope", "", "telescope name (overrides scenario)")
	runCmd.Flags().StringVar(&posterior, "posterior", "", "posterior samples CSV (overrides scenario)")
	runCmd.Flags().Float64Var(&offset, "offset", 0, "observed projected offset in kpc (overrides scenario)")
	runCmd.Flags().Float64Var(&offsetSigma, "offset-sigma", 0, "offset uncertainty in kpc (overrides scenario)")
	runCmd.Flags().Float64Var(&reff, "reff", 0, "galaxy effective radius in kpc (overrides scenario)")
	runCmd.Flags().IntVar(&trials, "trials", 0, "trial count (overrides scenario)")
	runCmd.Flags().StringVar(&output, "output", "", "output CSV path (overrides scenario)")
	runCmd.Flags().StringVar(&integrator, "integrator", "", "trajectory integrator: dopri or rk4")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "base random seed (overrides scenario)")
	runCmd.Flags().IntVar(&cpus, "cpus", 0, "worker count (0 for all CPUs)")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTrials(cmd *cobra.Command, args []string) error {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	logger = kitlog.With(logger, "cmd", "astro-traj")

	if scenario == "" {
		return fmt.Errorf("no scenario provided")
	}
	s, err := astrotraj.LoadScenario(scenario)
	if err != nil {
		return err
	}
	if err := applyOverrides(s); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}

	pot, err := astrotraj.NewGalaxyPotential(s.Galaxy.Mbulge, s.Galaxy.Mhalo, s.Galaxy.Mspiral, s.Galaxy.Reff, astrotraj.DefaultHubble)
	if err != nil {
		return err
	}
	logger.Log("level", "info", "subsys", "conf", "galaxy", s.GalaxyName,
		"Mbulge", s.Galaxy.Mbulge, "Mhalo", s.Galaxy.Mhalo, "Mspiral", s.Galaxy.Mspiral,
		"Reff(kpc)", s.Galaxy.Reff, "rtrunc(kpc)", pot.Rtrunc)

	sampler := astrotraj.NewSampler(s.Seed)
	in, err := astrotraj.DrawInputs(sampler, pot, s.Trials, s.Posterior, s.AMin, s.AMax, s.MheMax, s.Kickσ, s.RMax)
	if err != nil {
		return err
	}

	sink, err := astrotraj.NewCSVSink(s.Output)
	if err != nil {
		return err
	}

	obs, obsσ := s.OffsetWindow()
	if offsetSigma > 0 {
		obsσ = offsetSigma
	}
	cfg := astrotraj.RunConfig{Offset: obs, Offsetσ: obsσ, Seed: s.Seed, CPUs: cpus}
	stats, runErr := astrotraj.Run(cfg, pot, in, s.NewIntegrator, sink, logger)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	logger.Log("level", "notice", "subsys", "run", "output", s.Output, "maxdEfrac", stats.MaxDEfrac)
	return nil
}

func applyOverrides(s *astrotraj.Scenario) error {
	if galaxy != "" {
		if err := s.ResolveGalaxy(galaxy); err != nil {
			return err
		}
	}
	if telescope != "" {
		if err := s.ResolveTelescope(telescope); err != nil {
			return err
		}
	}
	if offset > 0 {
		s.Galaxy.Offset = offset
	}
	if reff > 0 {
		s.Galaxy.Reff = reff
	}
	if trials > 0 {
		s.Trials = trials
	}
	if output != "" {
		s.Output = output
	}
	if integrator != "" {
		s.Integrator = integrator
	}
	if seed != 0 {
		s.Seed = seed
	}
	if posterior != "" {
		post, err := astrotraj.LoadPosteriorSamples(posterior)
		if err != nil {
			return err
		}
		s.Posterior = post
	}
	return nil
}
