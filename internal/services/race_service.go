package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/gto"
	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/simulator"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/cache"
	"github.com/stitts-dev/race-sim/pkg/config"
)

// Summary statuses.
const (
	StatusCompleted = "completed"
	StatusWarning   = "completed_with_warnings"
	StatusFailed    = "failed"
)

// RunSummary is the caller-facing outcome of a pipeline step.
type RunSummary struct {
	Status     string `json:"status" yaml:"status"`
	Message    string `json:"message" yaml:"message"`
	RunID      string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Site       string `json:"site,omitempty" yaml:"site,omitempty"`
	Iterations int    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Retries    int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	Infeasible int    `json:"infeasible_iterations,omitempty" yaml:"infeasible_iterations,omitempty"`
	Requested  int    `json:"requested,omitempty" yaml:"requested,omitempty"`
	Produced   int    `json:"produced,omitempty" yaml:"produced,omitempty"`
	Duration   string `json:"duration" yaml:"duration"`
}

func failed(runID string, start time.Time, err error) *RunSummary {
	return &RunSummary{
		Status:   StatusFailed,
		Message:  err.Error(),
		RunID:    runID,
		Duration: time.Since(start).String(),
	}
}

// ErrInvalidRequest marks request parameters rejected before any work starts.
var ErrInvalidRequest = errors.New("invalid request")

// ProgressPublisher receives run progress; the websocket hub implements it.
type ProgressPublisher interface {
	ProgressFunc(runID uuid.UUID, phase string) func(done, total int)
	Publish(msg websocket.ProgressMessage)
}

// RaceService runs the simulate, GTO and build pipeline and keeps the
// results in the repository and the cache. repo, cache and progress may be
// nil.
type RaceService struct {
	repo      *store.Repository
	cache     *cache.ResultCacheService
	progress  ProgressPublisher
	registry  *scoring.Registry
	optimizer optimizer.Optimizer
	config    *config.Config
	logger    *logrus.Logger
}

func NewRaceService(
	repo *store.Repository,
	resultCache *cache.ResultCacheService,
	progress ProgressPublisher,
	registry *scoring.Registry,
	opt optimizer.Optimizer,
	cfg *config.Config,
	logger *logrus.Logger,
) *RaceService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if registry == nil {
		registry = scoring.NewRegistry()
	}
	if opt == nil {
		opt = optimizer.NewBranchAndBound(logrus.NewEntry(logger))
	}
	return &RaceService{
		repo:      repo,
		cache:     resultCache,
		progress:  progress,
		registry:  registry,
		optimizer: opt,
		config:    cfg,
		logger:    logger,
	}
}

type SimulateRequest struct {
	Input *profile.RaceInput
	// Iterations overrides Input.Iterations; both 0 means DEFAULT_ITERATIONS.
	Iterations int
	Seed       uint64
	// ExtraSites are scored besides Input.Site.
	ExtraSites []string
	RunID      uuid.UUID
}

// Simulation is a completed run together with the validated input.
type Simulation struct {
	Run   *simulator.RunResult
	Store *profile.Store
}

// Simulate validates the input, runs every iteration, scores it and stores
// the result. Configuration problems are returned as errors with a failed
// summary; nothing is simulated in that case.
func (s *RaceService) Simulate(ctx context.Context, req SimulateRequest) (*Simulation, *RunSummary, error) {
	start := time.Now()
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	runID := req.RunID.String()
	if req.Input == nil {
		err := fmt.Errorf("%w: race input is required", ErrInvalidRequest)
		return nil, failed(runID, start, err), err
	}

	st, err := profile.NewStore(req.Input)
	if err != nil {
		return nil, failed(runID, start, err), err
	}
	sites := lo.Uniq(append([]string{st.Site()}, req.ExtraSites...))
	rules := make([]*scoring.RuleSet, 0, len(sites))
	for _, site := range sites {
		rs, err := s.registry.Lookup(site, st.Series())
		if err != nil {
			return nil, failed(runID, start, err), err
		}
		rules = append(rules, rs)
	}

	n := s.iterations(req)
	if s.config != nil && s.config.MaxIterations > 0 && n > s.config.MaxIterations {
		err := fmt.Errorf("%w: iterations %d exceed the maximum of %d", ErrInvalidRequest, n, s.config.MaxIterations)
		return nil, failed(runID, start, err), err
	}
	seed := req.Seed
	if seed == 0 {
		seed = req.Input.Seed
	}

	sim, err := simulator.NewRaceSimulator(st, logrus.NewEntry(s.logger))
	if err != nil {
		return nil, failed(runID, start, err), err
	}
	opts := simulator.AggregateOptions{
		RunID:      req.RunID,
		Iterations: n,
		Seed:       seed,
		Rules:      rules,
		Log:        s.logger.WithFields(logrus.Fields{"series": st.Series(), "site": st.Site()}),
	}
	if s.config != nil {
		opts.Workers = s.config.SimulationWorkers
		opts.MaxRetries = s.config.IterationMaxRetries
	}
	if s.progress != nil {
		opts.Progress = s.progress.ProgressFunc(req.RunID, "simulate")
	}

	run, err := simulator.Aggregate(ctx, sim, st, opts)
	if err != nil {
		s.publish(runID, websocket.MessageFailed, err.Error())
		return nil, failed(runID, start, err), err
	}

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, run, req.Input); err != nil {
			return nil, failed(runID, start, err), err
		}
	}
	if err := s.cache.Set(ctx, cache.RunKey(runID), run); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to cache run")
	}
	s.publish(runID, websocket.MessageCompleted, "simulation complete")

	return &Simulation{Run: run, Store: st}, &RunSummary{
		Status:     StatusCompleted,
		Message:    fmt.Sprintf("%d iterations simulated for %s", n, run.RaceName),
		RunID:      runID,
		Site:       run.Site,
		Iterations: n,
		Retries:    run.Retries,
		Duration:   time.Since(start).String(),
	}, nil
}

func (s *RaceService) iterations(req SimulateRequest) int {
	switch {
	case req.Iterations > 0:
		return req.Iterations
	case req.Input.Iterations > 0:
		return req.Input.Iterations
	case s.config != nil && s.config.DefaultIterations > 0:
		return s.config.DefaultIterations
	}
	return 10000
}

func (s *RaceService) publish(runID, kind, message string) {
	if s.progress == nil {
		return
	}
	s.progress.Publish(websocket.ProgressMessage{Type: kind, RunID: runID, Message: message})
}

// Load returns a stored run with its input, preferring the cache.
func (s *RaceService) Load(ctx context.Context, runID uuid.UUID) (*Simulation, error) {
	if s.repo == nil {
		return nil, errors.New("no run repository configured")
	}
	in, err := s.repo.GetInput(ctx, runID)
	if err != nil {
		return nil, err
	}
	st, err := profile.NewStore(in)
	if err != nil {
		return nil, err
	}

	var run simulator.RunResult
	key := cache.RunKey(runID.String())
	if err := s.cache.Get(ctx, key, &run); err == nil {
		return &Simulation{Run: &run, Store: st}, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Cache read failed")
	}

	loaded, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, loaded); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to cache run")
	}
	return &Simulation{Run: loaded, Store: st}, nil
}

func (s *RaceService) pool(sim *Simulation, site string) (*lineup.Pool, error) {
	if site == "" {
		site = sim.Run.Site
	}
	rules, err := s.registry.Lookup(site, sim.Store.Series())
	if err != nil {
		return nil, err
	}
	return lineup.NewPool(sim.Store, sim.Run, rules)
}

func (s *RaceService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config == nil || s.config.OptimizationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.config.OptimizationTimeout)*time.Second)
}

// EstimateGTO runs the GTO estimator over sim for site and stores the result.
func (s *RaceService) EstimateGTO(ctx context.Context, sim *Simulation, site string) (*gto.Result, *RunSummary, error) {
	start := time.Now()
	runID := sim.Run.ID.String()
	pool, err := s.pool(sim, site)
	if err != nil {
		return nil, failed(runID, start, err), err
	}

	c := optimizer.Constraints{SalaryCap: pool.SalaryCap, Slots: pool.Slots, NumLineups: 1}
	workers := 0
	if s.config != nil {
		c.NumLineups = max(s.config.GTOLineupsPerIteration, 1)
		workers = s.config.SimulationWorkers
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := gto.Estimate(ctx, s.optimizer, pool.Players, pool.Scores(), c, workers)
	if err != nil {
		return nil, failed(runID, start, err), err
	}

	if s.repo != nil {
		if err := s.repo.SaveGTO(ctx, sim.Run.ID, pool.Site, res); err != nil {
			return nil, failed(runID, start, err), err
		}
	}
	if err := s.cache.Set(ctx, cache.GTOKey(runID, pool.Site), res); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to cache GTO result")
	}

	summary := &RunSummary{
		Status:     StatusCompleted,
		Message:    fmt.Sprintf("GTO exposure estimated over %d iterations", res.Iterations),
		RunID:      runID,
		Site:       pool.Site,
		Iterations: res.Iterations,
		Infeasible: res.InfeasibleIterations,
		Duration:   time.Since(start).String(),
	}
	if res.InfeasibleIterations > 0 {
		summary.Status = StatusWarning
		summary.Message = fmt.Sprintf("%s; %d iterations had no feasible lineup", summary.Message, res.InfeasibleIterations)
	}
	return res, summary, nil
}

// DeleteRun removes a stored run and its cached results.
func (s *RaceService) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	if s.repo == nil {
		return errors.New("no run repository configured")
	}
	if err := s.repo.DeleteRun(ctx, runID); err != nil {
		return err
	}
	if err := s.cache.InvalidateRun(ctx, runID.String()); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to invalidate cached run")
	}
	return nil
}

// GetGTO returns a stored GTO estimate, preferring the cache.
func (s *RaceService) GetGTO(ctx context.Context, runID uuid.UUID, site string) (*gto.Result, error) {
	var res gto.Result
	if err := s.cache.Get(ctx, cache.GTOKey(runID.String(), site), &res); err == nil {
		return &res, nil
	}
	if s.repo == nil {
		return nil, fmt.Errorf("gto for run %s: %w", runID, store.ErrNotFound)
	}
	return s.repo.GetGTO(ctx, runID, site)
}

// BuildLineups builds, ranks and stores lineups for sim on site.
func (s *RaceService) BuildLineups(ctx context.Context, sim *Simulation, site string, cfg lineup.BuildConfig) (*lineup.BuildResult, *RunSummary, error) {
	start := time.Now()
	runID := sim.Run.ID.String()
	pool, err := s.pool(sim, site)
	if err != nil {
		return nil, failed(runID, start, err), err
	}
	if s.config != nil {
		if cfg.MaxAttempts == 0 {
			cfg.MaxAttempts = s.config.RandomBuildAttempts
		}
		if s.config.MaxLineups > 0 && cfg.TotalLineups > s.config.MaxLineups {
			err := fmt.Errorf("%w: total lineups %d exceed the maximum of %d", ErrInvalidRequest, cfg.TotalLineups, s.config.MaxLineups)
			return nil, failed(runID, start, err), err
		}
	}
	if cfg.CleanByPercentile != 0 {
		if _, err := lineup.ParseStat(cfg.CleanByPercentile); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			return nil, failed(runID, start, err), err
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := lineup.Build(ctx, s.optimizer, pool, cfg, s.logger.WithField("run_id", runID))
	if err != nil {
		return nil, failed(runID, start, err), err
	}
	if s.repo != nil {
		if err := s.repo.SaveLineups(ctx, sim.Run.ID, pool.Site, res.Candidates); err != nil {
			return nil, failed(runID, start, err), err
		}
	}

	summary := &RunSummary{
		Status:    StatusCompleted,
		Message:   fmt.Sprintf("%d lineups built", len(res.Candidates)),
		RunID:     runID,
		Site:      pool.Site,
		Requested: res.Requested,
		Produced:  res.Produced,
		Duration:  time.Since(start).String(),
	}
	if res.Warning != "" {
		summary.Status = StatusWarning
		summary.Message = fmt.Sprintf("%s; %s", summary.Message, res.Warning)
	}
	return res, summary, nil
}

// CashRequest scores stored lineups against opponent lineups given as
// player IDs.
type CashRequest struct {
	Site      string     `json:"site"`
	Field     [][]string `json:"field" binding:"required,min=1"`
	Threshold float64    `json:"threshold"`
	H2H       bool       `json:"h2h"`
}

// Cash filters the run's stored lineups for the site by win rate against
// req.Field.
func (s *RaceService) Cash(ctx context.Context, sim *Simulation, req CashRequest) ([]*lineup.Candidate, error) {
	if s.repo == nil {
		return nil, errors.New("no run repository configured")
	}
	pool, err := s.pool(sim, req.Site)
	if err != nil {
		return nil, err
	}
	cands, err := s.repo.ListLineups(ctx, sim.Run.ID, pool.Site, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range cands {
		if err := c.Simulate(pool.Arrays()); err != nil {
			return nil, err
		}
	}

	byID := make(map[string]optimizer.Player, len(pool.Players))
	for _, p := range pool.Players {
		byID[p.ID] = p
	}
	field := make([]*lineup.Candidate, 0, len(req.Field))
	for i, ids := range req.Field {
		players := make([]optimizer.Player, 0, len(ids))
		for _, id := range ids {
			p, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: field lineup %d: unknown player %s", ErrInvalidRequest, i, id)
			}
			players = append(players, p)
		}
		f := lineup.NewCandidate(players, nil)
		if err := f.Simulate(pool.Arrays()); err != nil {
			return nil, err
		}
		field = append(field, f)
	}
	return lineup.CashFilter(cands, field, req.Threshold, req.H2H)
}
