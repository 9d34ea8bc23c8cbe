package astrotraj

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// GalaxyDescriptor is the host galaxy entry of a catalog.
type GalaxyDescriptor struct {
	Mspiral   float64 `yaml:"mspiral"`   // Msun
	Mbulge    float64 `yaml:"mbulge"`    // Msun
	Mhalo     float64 `yaml:"mhalo"`     // Msun
	Reff      float64 `yaml:"reff"`      // kpc
	Distance  float64 `yaml:"distance"`  // Mpc
	Offset    float64 `yaml:"offset"`    // observed projected offset, kpc
	OffsetErr float64 `yaml:"offseterr"` // reported offset uncertainty, kpc
}

// TelescopeDescriptor holds what is needed to compute an angular resolution.
type TelescopeDescriptor struct {
	Wavelength float64 `yaml:"wavelength"` // meters
	Aperture   float64 `yaml:"aperture"`   // meters
}

// Resolution returns the diffraction-limited physical resolution at the
// given distance (Mpc), in kpc.
func (t TelescopeDescriptor) Resolution(distanceMpc float64) float64 {
	if t.Aperture <= 0 {
		return 0
	}
	θ := 1.22 * t.Wavelength / t.Aperture // radians
	return θ * distanceMpc * 1e3          // small angle, Mpc -> kpc
}

// CombinedOffsetσ folds the telescope resolution into the reported offset
// uncertainty in quadrature. Done once, before the trial loop.
func CombinedOffsetσ(offsetErr, resolution float64) float64 {
	return math.Sqrt(offsetErr*offsetErr + resolution*resolution)
}

// PosteriorSummary reduces a gravitational-wave posterior to component mass
// point estimates and uncertainties.
type PosteriorSummary struct {
	M1, M1σ float64
	M2, M2σ float64
}

// LoadGalaxyCatalog reads a YAML catalog keyed by galaxy name.
func LoadGalaxyCatalog(path string) (map[string]GalaxyDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]GalaxyDescriptor)
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	return catalog, nil
}

// LoadTelescopeCatalog reads a YAML catalog keyed by telescope name.
func LoadTelescopeCatalog(path string) (map[string]TelescopeDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]TelescopeDescriptor)
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	return catalog, nil
}

// LoadPosteriorSamples reduces a two-column CSV of posterior mass samples
// (m1, m2) to a PosteriorSummary. Lines starting with # are skipped.
func LoadPosteriorSamples(path string) (PosteriorSummary, error) {
	var sum PosteriorSummary
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comment = '#'
	var m1s, m2s []float64
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("%s: %s", path, err)
		}
		if len(record) < 2 {
			return sum, fmt.Errorf("%s: expected two columns, got %d", path, len(record))
		}
		m1, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			// Header line.
			if len(m1s) == 0 {
				continue
			}
			return sum, fmt.Errorf("%s: %s", path, err)
		}
		m2, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return sum, fmt.Errorf("%s: %s", path, err)
		}
		m1s = append(m1s, m1)
		m2s = append(m2s, m2)
	}
	if len(m1s) < 2 {
		return sum, fmt.Errorf("%s: not enough posterior samples", path)
	}
	sum.M1, sum.M1σ = meanStd(m1s)
	sum.M2, sum.M2σ = meanStd(m2s)
	return sum, nil
}

func meanStd(v []float64) (μ, σ float64) {
	for _, x := range v {
		μ += x
	}
	μ /= float64(len(v))
	for _, x := range v {
		σ += (x - μ) * (x - μ)
	}
	σ = math.Sqrt(σ / float64(len(v)-1))
	return
}

// Scenario is one fully resolved run configuration. The catalog paths are
// kept so that a name override can be re-resolved after loading.
type Scenario struct {
	GalaxyName       string
	TelescopeName    string
	GalaxyCatalog    string
	TelescopeCatalog string
	Galaxy           GalaxyDescriptor
	Telescope        TelescopeDescriptor
	Posterior        PosteriorSummary
	Trials           int
	Seed             int64
	Output           string
	Integrator       string
	// Sampling ranges.
	AMin, AMax float64 // pre-kick separation range, Rsun
	MheMax     float64 // maximum helium star mass, Msun
	Kickσ      float64 // Maxwellian dispersion, km/s
	RMax       float64 // radial CDF extent, kpc
}

// scenario defaults.
const (
	DefaultAMin   = 0.1   // Rsun
	DefaultAMax   = 10.0  // Rsun
	DefaultMheMax = 8.0   // Msun
	DefaultKickσ  = 265.0 // km/s, Hobbs et al. pulsar kicks
)

// LoadScenario reads a TOML scenario file. Catalog lookups happen here so
// that malformed configuration fails before the trial loop starts.
func LoadScenario(path string) (*Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	s := &Scenario{
		GalaxyName:    v.GetString("galaxy.name"),
		TelescopeName: v.GetString("telescope.name"),
		Trials:        v.GetInt("run.trials"),
		Seed:          v.GetInt64("run.seed"),
		Output:        v.GetString("run.output"),
		Integrator:    v.GetString("run.integrator"),
		AMin:          v.GetFloat64("sampling.amin"),
		AMax:          v.GetFloat64("sampling.amax"),
		MheMax:        v.GetFloat64("sampling.mhemax"),
		Kickσ:         v.GetFloat64("sampling.vkick"),
		RMax:          v.GetFloat64("sampling.rmax"),
	}
	if s.Output == "" {
		s.Output = "trials.csv"
	}
	if s.Integrator == "" {
		s.Integrator = "dopri"
	}
	applySamplingDefaults(s)

	s.GalaxyCatalog = v.GetString("galaxy.catalog")
	if s.GalaxyCatalog != "" {
		if err := s.ResolveGalaxy(s.GalaxyName); err != nil {
			return nil, err
		}
	} else {
		s.Galaxy = GalaxyDescriptor{
			Mspiral:   v.GetFloat64("galaxy.mspiral"),
			Mbulge:    v.GetFloat64("galaxy.mbulge"),
			Mhalo:     v.GetFloat64("galaxy.mhalo"),
			Reff:      v.GetFloat64("galaxy.reff"),
			Distance:  v.GetFloat64("galaxy.distance"),
			Offset:    v.GetFloat64("galaxy.offset"),
			OffsetErr: v.GetFloat64("galaxy.offseterr"),
		}
	}

	s.TelescopeCatalog = v.GetString("telescope.catalog")
	if s.TelescopeCatalog != "" {
		if err := s.ResolveTelescope(s.TelescopeName); err != nil {
			return nil, err
		}
	} else {
		s.Telescope = TelescopeDescriptor{
			Wavelength: v.GetFloat64("telescope.wavelength"),
			Aperture:   v.GetFloat64("telescope.aperture"),
		}
	}

	if samples := v.GetString("posterior.samples"); samples != "" {
		post, err := LoadPosteriorSamples(samples)
		if err != nil {
			return nil, err
		}
		s.Posterior = post
	} else {
		s.Posterior = PosteriorSummary{
			M1:  v.GetFloat64("posterior.m1"),
			M1σ: v.GetFloat64("posterior.m1sigma"),
			M2:  v.GetFloat64("posterior.m2"),
			M2σ: v.GetFloat64("posterior.m2sigma"),
		}
	}
	return s, s.Validate()
}

// ResolveGalaxy looks the named galaxy up in the scenario's catalog and
// replaces the resolved descriptor, so a name change carries its physics.
func (s *Scenario) ResolveGalaxy(name string) error {
	if s.GalaxyCatalog == "" {
		return fmt.Errorf("no galaxy catalog to resolve `%s` from", name)
	}
	galaxies, err := LoadGalaxyCatalog(s.GalaxyCatalog)
	if err != nil {
		return err
	}
	gal, ok := galaxies[name]
	if !ok {
		return fmt.Errorf("galaxy `%s` not in catalog %s", name, s.GalaxyCatalog)
	}
	s.GalaxyName = name
	s.Galaxy = gal
	return nil
}

// ResolveTelescope looks the named telescope up in the scenario's catalog and
// replaces the resolved descriptor.
func (s *Scenario) ResolveTelescope(name string) error {
	if s.TelescopeCatalog == "" {
		return fmt.Errorf("no telescope catalog to resolve `%s` from", name)
	}
	telescopes, err := LoadTelescopeCatalog(s.TelescopeCatalog)
	if err != nil {
		return err
	}
	tel, ok := telescopes[name]
	if !ok {
		return fmt.Errorf("telescope `%s` not in catalog %s", name, s.TelescopeCatalog)
	}
	s.TelescopeName = name
	s.Telescope = tel
	return nil
}

func applySamplingDefaults(s *Scenario) {
	if s.AMin == 0 {
		s.AMin = DefaultAMin
	}
	if s.AMax == 0 {
		s.AMax = DefaultAMax
	}
	if s.MheMax == 0 {
		s.MheMax = DefaultMheMax
	}
	if s.Kickσ == 0 {
		s.Kickσ = DefaultKickσ
	}
}

// Validate rejects a malformed scenario before any trial runs.
func (s *Scenario) Validate() error {
	if s.Trials <= 0 {
		return fmt.Errorf("trial count must be positive (got %d)", s.Trials)
	}
	if s.Galaxy.Mbulge <= 0 || s.Galaxy.Mhalo <= 0 {
		return fmt.Errorf("galaxy bulge and halo masses must be positive")
	}
	if s.Galaxy.Reff <= 0 {
		return fmt.Errorf("galaxy effective radius must be positive")
	}
	if s.Galaxy.Offset <= 0 {
		return fmt.Errorf("observed offset must be positive")
	}
	// A zero-width window makes a match unreachable.
	if _, offsetσ := s.OffsetWindow(); offsetσ <= 0 {
		return fmt.Errorf("combined offset uncertainty must be positive (offseterr and telescope resolution both zero)")
	}
	if s.Posterior.M1 <= 0 || s.Posterior.M2 <= 0 || s.Posterior.M1σ <= 0 || s.Posterior.M2σ <= 0 {
		return fmt.Errorf("posterior summary must have positive masses and uncertainties")
	}
	if s.Integrator != "dopri" && s.Integrator != "rk4" {
		return fmt.Errorf("unknown integrator `%s`", s.Integrator)
	}
	if s.RMax == 0 {
		s.RMax = 10 * s.Galaxy.Reff
	}
	return nil
}

// OffsetWindow returns the observed offset and its combined uncertainty.
func (s *Scenario) OffsetWindow() (offset, offsetσ float64) {
	res := s.Telescope.Resolution(s.Galaxy.Distance)
	return s.Galaxy.Offset, CombinedOffsetσ(s.Galaxy.OffsetErr, res)
}

// NewIntegrator builds the configured trajectory integrator.
func (s *Scenario) NewIntegrator() Integrator {
	if s.Integrator == "rk4" {
		return NewRK4()
	}
	return NewDopri()
}
