package cmd

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/CraigKelly/ptgibbs/group"
	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/output"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/sampler"
	"github.com/CraigKelly/ptgibbs/skymap"
	"github.com/CraigKelly/ptgibbs/work"
)

// Pixel radius searched by --refine-start
const startSearchPix = 5

// startupParams is everything a run needs, fixed before sampling starts
type startupParams struct {
	out     *log.Logger
	trace   *log.Logger
	verbose bool
	seed    int64
	opts    runOptions
	cfg     sampler.Config

	freqs     []float64
	mapsPath  string
	noisePath string
	specPath  string
	posPath   string
	odir      string
}

// inputs are the data shared read-only by all groups
type inputs struct {
	maps   *skymap.Map // [nfreq, ncomp]
	noise  *skymap.Map // [nfreq, ncomp, ncomp]
	spec   *skymap.Spectrum
	pos    []skymap.Pos
	groups []group.Group
}

func newRunCmd() *cobra.Command {
	flags := defaultRunOptions()

	cmd := &cobra.Command{
		Use:   "run FREQS MAPS NOISE POWSPEC POSFILE ODIR",
		Short: "Sample CMB and point source parameters around each candidate",
		Long: `run cuts out a region around every group of nearby candidates and
runs a Gibbs chain on it. FREQS is a comma separated list of band centres in
GHz. MAPS is a FITS file (or a pattern taking the band index) of shape
[nfreq,ncomp,ny,nx]. NOISE is either comma separated white noise levels in uK
or a FITS inverse noise covariance (pattern) of shape [nfreq,ncomp,ncomp,ny,nx].
POWSPEC holds columns "l D_l..." and POSFILE rows "dec ra ..." in degrees.
Samples are written to ODIR/samps%03d.txt, one file per candidate.`,
		Args: cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, cfg, err := loadConfig(cfgFile, flags, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			sp, err := newStartupParams(args, opts, cfg)
			if err != nil {
				return err
			}
			return RunSampling(sp)
		},
	}

	f := cmd.Flags()
	f.Float64VarP(&flags.Radius, "radius", "R", flags.Radius, "Cutout radius around each group (arcmin)")
	f.IntVar(&flags.BurnIn, "burnin", flags.BurnIn, "Gibbs sweeps discarded before sampling")
	f.IntVarP(&flags.NSamp, "nsamp", "n", flags.NSamp, "Gibbs sweeps written per group")
	f.IntVar(&flags.Dump, "dump", flags.Dump, "Write FITS dumps every this many sweeps (0 = never)")
	f.IntVarP(&flags.Start, "start", "i", flags.Start, "Skip groups before this index")
	f.IntVar(&flags.NMax, "nmax", flags.NMax, "Only process the first nmax groups (0 = all)")
	f.Float64Var(&flags.MinDistGroup, "mindist-group", flags.MinDistGroup, "Candidates closer than this (arcmin) are sampled together")
	f.BoolVarP(&flags.Cont, "cont", "c", flags.Cont, "Skip groups whose output already has nsamp samples")
	f.IntVar(&flags.Rank, "rank", flags.Rank, "Index of this process")
	f.IntVar(&flags.NProc, "nproc", flags.NProc, "Number of processes sharing the groups")
	f.IntVar(&flags.Workers, "workers", flags.Workers, "Groups sampled concurrently by this process")
	f.BoolVar(&flags.RefineStart, "refine-start", flags.RefineStart, "Move single candidates to the brightest nearby pixel before sampling")

	return cmd
}

func newStartupParams(args []string, opts runOptions, cfg sampler.Config) (*startupParams, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid sampler config")
	}
	freqs, err := parseFloats(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "Could not parse frequencies %q", args[0])
	}

	sp := &startupParams{
		out:       log.New(os.Stdout, "", 0),
		trace:     log.New(io.Discard, "", 0),
		verbose:   verbose,
		seed:      randomSeed,
		opts:      opts,
		cfg:       cfg,
		freqs:     freqs,
		mapsPath:  args[1],
		noisePath: args[2],
		specPath:  args[3],
		posPath:   args[4],
		odir:      args[5],
	}
	if verbose {
		sp.trace = log.New(os.Stderr, "", log.Lmicroseconds)
	}
	return sp, nil
}

// parseFloats parses a comma separated list of numbers
func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	res := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// readNoise builds flat noise from a list of levels or reads inverse noise
// maps
func readNoise(info string, maps *skymap.Map) (*skymap.Map, error) {
	nfreq, ncomp := maps.Shape[0], maps.Shape[1]

	var noise *skymap.Map
	if sigmas, err := parseFloats(info); err == nil {
		noise, err = skymap.FlatNoise(maps.Geom, ncomp, sigmas)
		if err != nil {
			return nil, err
		}
	} else {
		noise, err = skymap.ReadMaps(info, nfreq, 5)
		if err != nil {
			return nil, err
		}
		if !noise.Geom.Compatible(maps.Geom) {
			return nil, errors.New("Noise and maps have different pixelizations")
		}
	}

	if err := skymap.CheckNoise(noise, maps); err != nil {
		return nil, err
	}
	return noise, nil
}

func readInputs(sp *startupParams) (*inputs, error) {
	nfreq := len(sp.freqs)

	sp.out.Printf("Reading maps from %s\n", sp.mapsPath)
	maps, err := skymap.ReadMaps(sp.mapsPath, nfreq, 4)
	if err != nil {
		return nil, err
	}
	if maps.Shape[0] != nfreq {
		return nil, errors.Errorf("Got %d frequencies but %d maps", nfreq, maps.Shape[0])
	}
	ncomp := maps.Shape[1]

	noise, err := readNoise(sp.noisePath, maps)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not set up noise from %s", sp.noisePath)
	}

	spec, err := skymap.ReadSpectrumFile(sp.specPath, ncomp)
	if err != nil {
		return nil, err
	}

	pos, err := model.ReadPositionsFile(sp.posPath)
	if err != nil {
		return nil, err
	}

	groups, err := group.Build(pos, sp.opts.MinDistGroup)
	if err != nil {
		return nil, err
	}
	sp.out.Printf("Found %d groups from %d candidates\n", len(groups), len(pos))

	return &inputs{
		maps:   maps,
		noise:  noise,
		spec:   spec,
		pos:    pos,
		groups: groups,
	}, nil
}

// RunSampling reads the inputs and samples every group owned by this
// process. Failing groups are logged and do not stop the others, but make
// the run return an error at the end.
func RunSampling(sp *startupParams) error {
	in, err := readInputs(sp)
	if err != nil {
		return err
	}
	return sampleGroups(sp, in)
}

func sampleGroups(sp *startupParams, in *inputs) error {
	groups := in.groups
	if sp.opts.NMax > 0 && sp.opts.NMax < len(groups) {
		groups = groups[:sp.opts.NMax]
	}
	if err := os.MkdirAll(sp.odir, 0755); err != nil {
		return errors.Wrapf(err, "Could not create output directory %s", sp.odir)
	}

	mine, err := work.Strided(len(groups), sp.opts.Rank, sp.opts.NProc)
	if err != nil {
		return err
	}
	var items []int
	for _, i := range mine {
		if i >= sp.opts.Start {
			items = append(items, i)
		}
	}

	mon := newMonitor()
	if monitorAddr != "" {
		if err := mon.Start(monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()
	}
	mon.TotalGroups.Set(int64(len(items)))
	mon.BurnIn.Set(int64(sp.opts.BurnIn))
	mon.SampleCount.Set(int64(sp.opts.NSamp))

	var bar *progressbar.ProgressBar
	if !sp.verbose {
		bar = progressbar.NewOptions(len(items),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("groups"),
			progressbar.OptionShowCount(),
		)
	}

	results := work.Pool(sp.opts.Workers, items, func(i int) error {
		err := sampleGroup(sp, in, i, len(groups), mon)
		if err != nil {
			mon.GroupsFailed.Add(1)
			sp.out.Printf("Group %d failed: %v\n", i, err)
		} else {
			mon.GroupsDone.Add(1)
		}
		mon.Tick()
		if bar != nil {
			bar.Add(1)
		}
		return err
	})
	if bar != nil {
		bar.Finish()
	}

	failed := work.Failed(results)
	if len(failed) > 0 {
		return errors.Errorf("%d of %d groups failed, first was group %d: %v",
			len(failed), len(results), failed[0].Item, failed[0].Err)
	}
	sp.out.Printf("Sampled %d groups\n", len(results))
	return nil
}

// sampleGroup runs the chain of group idx and writes its samples
func sampleGroup(sp *startupParams, in *inputs, idx int, ngroups int, mon *monitor) error {
	g := in.groups[idx]
	ids := []int(g)
	if sp.opts.Cont && output.Done(sp.odir, ids, sp.opts.NSamp) {
		sp.trace.Printf("Group %d already done\n", idx)
		return nil
	}
	sp.out.Printf("%5d/%d %3d: %v\n", idx+1, ngroups, sp.opts.Rank, ids)

	R := sp.opts.Radius * sampler.Arcmin
	box := g.Bounds(in.pos)
	box[0] = box[0].Sub(skymap.Pos{R, R})
	box[1] = box[1].Add(skymap.Pos{R, R})

	sub := in.maps.Submap(box)
	if sub.Geom.Empty() {
		sp.out.Printf("Group %d is outside the maps\n", idx)
		return output.WriteEmpty(sp.odir, ids)
	}
	subNoise := skymap.ApodizeStep(in.noise.Submap(box), R/10)

	rng, err := rand.NewGeneratorSlice([]uint64{uint64(sp.seed), uint64(idx)})
	if err != nil {
		return err
	}

	nfreq, ncomp := sub.Shape[0], sub.Shape[1]
	pos0 := g.Positions(in.pos)
	if sp.opts.RefineStart && len(pos0) == 1 {
		p, err := sampler.StartPoint(sp.cfg, sub, subNoise, in.spec, startSearchPix, rng)
		if err != nil {
			return errors.Wrap(err, "Could not refine start point")
		}
		sp.trace.Printf("Group %d start moved by %.3f arcmin\n", idx, p.Sub(pos0[0]).Norm()/sampler.Arcmin)
		pos0[0] = p
	}

	amps := make([][]float64, len(ids))
	shapes := make([]model.Shape, len(ids))
	for i := range ids {
		amps[i] = make([]float64, nfreq*ncomp)
		shapes[i] = sp.cfg.FiducialShape()
	}
	cmb := skymap.NewMap(sub.Geom, ncomp)
	copy(cmb.Data, sub.Data[:cmb.Size()])

	gibbs, err := sampler.NewGibbsSamplerMulti(sp.cfg, sub, subNoise, in.spec, pos0, amps, shapes, cmb, rng)
	if err != nil {
		return err
	}
	if sp.verbose {
		gibbs.SetTrace(sp.trace.Writer())
	}

	w, err := output.NewWriter(sp.odir, ids, sp.freqs, ncomp)
	if err != nil {
		return err
	}
	defer w.Close()

	ch, err := sampler.NewChain(gibbs, sp.opts.BurnIn, sp.cfg.AcceptWindow)
	if err != nil {
		return err
	}
	err = ch.Run(sp.opts.NSamp, func(sweep int, st sampler.State) error {
		mon.Sweeps.Add(1)
		solver := gibbs.Solver()
		mon.LastCGIters.Set(int64(solver.Iterations))
		mon.LastCGErr.Set(solver.Err)

		if err := w.Write(st); err != nil {
			return err
		}
		if sp.verbose {
			logSweep(sp, sweep, ids, st, gibbs)
		}
		if sp.opts.Dump > 0 && sweep%sp.opts.Dump == 0 {
			return dumpGroup(sp, in, ids, sweep, R, sub, st, gibbs.Model())
		}
		return nil
	})
	if err != nil {
		return err
	}

	means, drift := ch.AmpMeans(), ch.AmpDrift()
	for i, id := range ids {
		sp.trace.Printf("Group %d src %d amp means %.2f drift %.2f\n", idx, id, means[i], drift[i])
	}
	return w.Close()
}

func logSweep(sp *startupParams, sweep int, ids []int, st sampler.State, gibbs *sampler.GibbsSamplerMulti) {
	acc := gibbs.Acceptance()
	for i, id := range ids {
		beam, err := model.ExpandBeam(st.Shapes[i])
		if err != nil {
			continue
		}
		major, minor := beam.FWHM()
		sp.trace.Printf("%4d src %3d amps %.2f pos %.5f %.5f beam %.3f %.3f %.1f",
			sweep, id, st.Amps[i],
			st.Pos[i][0]/sampler.Arcmin/60, st.Pos[i][1]/sampler.Arcmin/60,
			major/sampler.Arcmin, minor/sampler.Arcmin, beam.Phi/sampler.Arcmin/60)
	}
	for k, a := range acc {
		sp.trace.Printf("%4d accept %-5s %.3f", sweep, sampler.MoveNames[k], a)
	}
}

func dumpGroup(sp *startupParams, in *inputs, ids []int, sweep int, R float64,
	sub *skymap.Map, st sampler.State, mod *model.PtsrcModel) error {
	cmbAll := st.CMB.Broadcast(sub.Shape[0])
	for i, id := range ids {
		src := mod.Model(st.Amps[i], st.Pos[i], st.Shapes[i])
		residual := sub.Sub(src).Sub(cmbAll)
		p := in.pos[id]
		box := [2]skymap.Pos{p.Sub(skymap.Pos{R, R}), p.Add(skymap.Pos{R, R})}
		err := output.WriteDump(sp.odir, id, sweep, box, output.Dump{
			CMB:      st.CMB,
			Residual: residual,
			Model:    src,
			Submap:   sub,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
