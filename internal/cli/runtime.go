package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/cache"
	"github.com/stitts-dev/race-sim/pkg/config"
	"github.com/stitts-dev/race-sim/pkg/database"
	"github.com/stitts-dev/race-sim/pkg/logger"
)

// runtime holds what a command needs. db, repo and cache are only opened
// when the command asks for them.
type runtime struct {
	cfg     *config.Config
	log     *logrus.Logger
	db      *database.DB
	repo    *store.Repository
	cache   *cache.ResultCacheService
	service *services.RaceService
}

type runtimeOptions struct {
	persist bool
	cache   bool
	rules   []string
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	config.SetDefaults(v)
	for flag, key := range configKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && (f.Changed || v.IsSet(flag)) {
			v.Set(key, f.Value.String())
		}
	}
	return config.FromViper(v)
}

func newRuntime(cmd *cobra.Command, v *viper.Viper, opts runtimeOptions) (*runtime, error) {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return nil, err
	}
	log := logger.InitLoggerWithOutput(cfg.LogLevel, false, cmd.ErrOrStderr())
	rt := &runtime{cfg: cfg, log: log}

	if opts.persist {
		rt.db, err = database.NewRaceSimConnection(cfg.DatabaseURL, false)
		if err != nil {
			return nil, err
		}
		rt.repo = store.NewRepository(rt.db, logger.WithComponent("store"))
		if err := rt.repo.Migrate(); err != nil {
			rt.Close()
			return nil, err
		}
	}
	if opts.cache {
		client, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.cache = cache.NewResultCacheService(client, cfg.ResultCacheTTL, cfg.CircuitBreakerThreshold, log)
	}

	registry := scoring.NewRegistry()
	for _, path := range opts.rules {
		if err := registerRules(registry, path); err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.service = services.NewRaceService(rt.repo, rt.cache, &progressLogger{log: log}, registry, nil, cfg, log)
	return rt, nil
}

func registerRules(registry *scoring.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open scoring rules %s: %w", path, err)
	}
	defer f.Close()
	rs, err := scoring.LoadRuleSet(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	registry.Register(rs)
	return nil
}

func (rt *runtime) Close() {
	if rt.cache != nil {
		rt.cache.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// progressLogger reports simulation progress in tenths.
type progressLogger struct {
	log  *logrus.Logger
	mu   sync.Mutex
	last int
}

func (p *progressLogger) ProgressFunc(runID uuid.UUID, phase string) func(done, total int) {
	return func(done, total int) {
		tenth := done * 10 / total
		p.mu.Lock()
		defer p.mu.Unlock()
		if tenth == p.last && done != total {
			return
		}
		p.last = tenth
		p.log.WithFields(logrus.Fields{"run_id": runID, "phase": phase, "done": done, "total": total}).Info("Progress")
	}
}

func (p *progressLogger) Publish(msg websocket.ProgressMessage) {
	p.mu.Lock()
	p.last = 0
	p.mu.Unlock()
	p.log.WithFields(logrus.Fields{"run_id": msg.RunID, "type": msg.Type}).Info(msg.Message)
}

// inputFlags selects where a command's race comes from: a YAML file, a
// built-in sample, or a stored run.
type inputFlags struct {
	file       string
	sample     string
	drivers    int
	runID      string
	iterations int
	seed       uint64
	extraSites []string
	persist    bool
	cache      bool
	rules      []string
}

func (f *inputFlags) register(cmd *cobra.Command, allowRunID bool) {
	cmd.Flags().StringVarP(&f.file, "input", "i", "", "race input YAML file")
	cmd.Flags().StringVar(&f.sample, "sample", "", "use a built-in sample race (nascar or f1)")
	cmd.Flags().IntVar(&f.drivers, "drivers", 36, "field size of the NASCAR sample")
	cmd.Flags().IntVarP(&f.iterations, "iterations", "n", 0, "iterations (default from input or DEFAULT_ITERATIONS)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "random seed (0 = from input, then random)")
	cmd.Flags().StringSliceVar(&f.extraSites, "extra-site", nil, "additional sites to score")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "store results in the database")
	cmd.Flags().BoolVar(&f.cache, "cache", false, "cache results in Redis")
	cmd.Flags().StringSliceVar(&f.rules, "rules", nil, "extra scoring rule set YAML files")
	if allowRunID {
		cmd.Flags().StringVar(&f.runID, "run-id", "", "use a stored run instead of simulating (implies --persist)")
	}
}

func (f *inputFlags) runtimeOptions() runtimeOptions {
	return runtimeOptions{persist: f.persist || f.runID != "", cache: f.cache, rules: f.rules}
}

func (f *inputFlags) input() (*profile.RaceInput, error) {
	switch {
	case f.file != "" && f.sample != "":
		return nil, fmt.Errorf("--input and --sample are mutually exclusive")
	case f.file != "":
		return profile.LoadFile(f.file)
	case f.sample == "nascar":
		return profile.SampleNascar(f.drivers), nil
	case f.sample == "f1":
		return profile.SampleF1(), nil
	case f.sample != "":
		return nil, fmt.Errorf("unknown sample %q: want nascar or f1", f.sample)
	}
	return nil, fmt.Errorf("one of --input or --sample is required")
}

// simulation simulates the selected input or loads the stored run.
func (f *inputFlags) simulation(ctx context.Context, rt *runtime, out io.Writer) (*services.Simulation, error) {
	if f.runID != "" {
		id, err := uuid.Parse(f.runID)
		if err != nil {
			return nil, fmt.Errorf("invalid --run-id: %w", err)
		}
		return rt.service.Load(ctx, id)
	}
	in, err := f.input()
	if err != nil {
		return nil, err
	}
	sim, summary, err := rt.service.Simulate(ctx, services.SimulateRequest{
		Input:      in,
		Iterations: f.iterations,
		Seed:       f.seed,
		ExtraSites: f.extraSites,
	})
	if summary != nil {
		if werr := writeYAML(out, summary); werr != nil && err == nil {
			err = werr
		}
	}
	return sim, err
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeJSON writes v to path, or does nothing when path is empty.
func writeJSON(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
