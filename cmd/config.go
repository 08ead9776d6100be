package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/CraigKelly/ptgibbs/sampler"
)

// runOptions are the settings of the run command that may also come from
// the config file.
type runOptions struct {
	Radius       float64 `yaml:"radius"`
	BurnIn       int     `yaml:"burnin"`
	NSamp        int     `yaml:"nsamp"`
	Dump         int     `yaml:"dump"`
	Start        int     `yaml:"start"`
	NMax         int     `yaml:"nmax"`
	MinDistGroup float64 `yaml:"mindist_group"`
	Cont         bool    `yaml:"cont"`
	Rank         int     `yaml:"rank"`
	NProc        int     `yaml:"nproc"`
	Workers      int     `yaml:"workers"`
	RefineStart  bool    `yaml:"refine_start"`
}

func defaultRunOptions() runOptions {
	return runOptions{
		Radius:       30,
		BurnIn:       10,
		NSamp:        50,
		MinDistGroup: 10,
		NProc:        1,
		Workers:      1,
	}
}

// fileConfig is the layout of the yaml config file
type fileConfig struct {
	Run     runOptions     `yaml:"run"`
	Sampler sampler.Config `yaml:"sampler"`
}

// flagFields ties each run flag to its option so that explicit flags win
// over the config file.
var flagFields = map[string]func(dst, src *runOptions){
	"radius":        func(dst, src *runOptions) { dst.Radius = src.Radius },
	"burnin":        func(dst, src *runOptions) { dst.BurnIn = src.BurnIn },
	"nsamp":         func(dst, src *runOptions) { dst.NSamp = src.NSamp },
	"dump":          func(dst, src *runOptions) { dst.Dump = src.Dump },
	"start":         func(dst, src *runOptions) { dst.Start = src.Start },
	"nmax":          func(dst, src *runOptions) { dst.NMax = src.NMax },
	"mindist-group": func(dst, src *runOptions) { dst.MinDistGroup = src.MinDistGroup },
	"cont":          func(dst, src *runOptions) { dst.Cont = src.Cont },
	"rank":          func(dst, src *runOptions) { dst.Rank = src.Rank },
	"nproc":         func(dst, src *runOptions) { dst.NProc = src.NProc },
	"workers":       func(dst, src *runOptions) { dst.Workers = src.Workers },
	"refine-start":  func(dst, src *runOptions) { dst.RefineStart = src.RefineStart },
}

// mergeConfig layers the config file over the defaults and the explicitly
// changed flags over both. Settings absent from the file keep their flag
// value.
func mergeConfig(r io.Reader, flags runOptions, changed func(string) bool) (runOptions, sampler.Config, error) {
	fc := fileConfig{Run: flags, Sampler: sampler.DefaultConfig()}
	if r != nil {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && err != io.EOF {
			return runOptions{}, sampler.Config{}, errors.Wrap(err, "Could not parse config")
		}
	}

	opts := fc.Run
	for name, apply := range flagFields {
		if changed(name) {
			apply(&opts, &flags)
		}
	}
	return opts, fc.Sampler, nil
}

// loadConfig reads the config file if one was given
func loadConfig(filename string, flags runOptions, changed func(string) bool) (runOptions, sampler.Config, error) {
	if filename == "" {
		return mergeConfig(nil, flags, changed)
	}
	f, err := os.Open(filename)
	if err != nil {
		return runOptions{}, sampler.Config{}, errors.Wrapf(err, "Could not READ config from %s", filename)
	}
	defer f.Close()

	opts, cfg, err := mergeConfig(f, flags, changed)
	if err != nil {
		return opts, cfg, errors.Wrapf(err, "Bad config file %s", filename)
	}
	return opts, cfg, nil
}

func (o runOptions) validate() error {
	if o.Radius <= 0 {
		return errors.Errorf("Radius must be positive, got %g", o.Radius)
	}
	if o.BurnIn < 0 || o.NSamp < 1 {
		return errors.Errorf("Need burnin >= 0 and nsamp >= 1, got %d and %d", o.BurnIn, o.NSamp)
	}
	if o.Dump < 0 || o.Start < 0 || o.NMax < 0 {
		return errors.Errorf("Negative dump/start/nmax is not allowed")
	}
	if o.MinDistGroup < 0 {
		return errors.Errorf("Group distance may not be negative, got %g", o.MinDistGroup)
	}
	if o.NProc < 1 || o.Rank < 0 || o.Rank >= o.NProc {
		return errors.Errorf("Invalid rank %d of %d", o.Rank, o.NProc)
	}
	if o.Workers < 1 {
		return errors.Errorf("Need at least one worker, got %d", o.Workers)
	}
	return nil
}
