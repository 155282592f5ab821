package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/stitts-dev/race-sim/internal/gto"
	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/models"
	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/simulator"
)

type outcomeArrays struct {
	FinishingPosition []int    `json:"fp"`
	OriginalSpeedRank []int    `json:"osr"`
	SpeedRank         []int    `json:"sr"`
	LapsLed           []int    `json:"ll"`
	FastestLaps       []int    `json:"fl"`
	FastestLap        []bool   `json:"fl_flag"`
	Incident          []bool   `json:"incident"`
	Damage            []string `json:"dam,omitempty"`
	Penalty           []string `json:"pen,omitempty"`
}

func marshal(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshal(j datatypes.JSON, v any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, v)
}

func toRunModel(run *simulator.RunResult) (*models.SimulationRun, error) {
	m := &models.SimulationRun{
		ID:         run.ID.String(),
		RaceName:   run.RaceName,
		Series:     string(run.Series),
		Site:       run.Site,
		Seed:       strconv.FormatUint(run.Seed, 10),
		Iterations: run.Iterations,
		Retries:    run.Retries,
		Status:     models.StatusCompleted,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	var err error
	if run.TotalCautions != nil {
		if m.TotalCautions, err = marshal(run.TotalCautions); err != nil {
			return nil, fmt.Errorf("encode cautions: %w", err)
		}
	}

	for i, co := range run.Competitors {
		row := models.CompetitorResult{
			RunID:            m.ID,
			Ordinal:          i,
			CompetitorID:     co.ID,
			Name:             co.Name,
			Team:             co.Team,
			StartingPosition: co.StartingPosition,
			AvgFinish:        co.Summary.AvgFinish,
			AvgLapsLed:       co.Summary.AvgLapsLed,
			AvgFastestLaps:   co.Summary.AvgFastestLaps,
		}
		arrays := outcomeArrays{
			FinishingPosition: co.FinishingPosition,
			OriginalSpeedRank: co.OriginalSpeedRank,
			SpeedRank:         co.SpeedRank,
			LapsLed:           co.LapsLed,
			FastestLaps:       co.FastestLaps,
			FastestLap:        co.FastestLap,
			Incident:          co.Incident,
			Damage:            co.Damage,
			Penalty:           co.Penalty,
		}
		if row.Outcomes, err = marshal(arrays); err != nil {
			return nil, fmt.Errorf("encode outcomes for %s: %w", co.ID, err)
		}
		if row.Scores, err = marshal(co.Scores); err != nil {
			return nil, fmt.Errorf("encode scores for %s: %w", co.ID, err)
		}
		if co.CaptainScores != nil {
			if row.CaptainScores, err = marshal(co.CaptainScores); err != nil {
				return nil, fmt.Errorf("encode captain scores for %s: %w", co.ID, err)
			}
		}
		if row.Summary, err = marshal(co.Summary); err != nil {
			return nil, fmt.Errorf("encode summary for %s: %w", co.ID, err)
		}
		m.Competitors = append(m.Competitors, row)
	}

	for i, co := range run.Constructors {
		row := models.ConstructorResult{RunID: m.ID, Ordinal: i, ConstructorID: co.ID, Name: co.Name}
		if row.Scores, err = marshal(co.Scores); err != nil {
			return nil, fmt.Errorf("encode scores for %s: %w", co.ID, err)
		}
		if row.Summary, err = marshal(co.Summary); err != nil {
			return nil, fmt.Errorf("encode summary for %s: %w", co.ID, err)
		}
		m.Constructors = append(m.Constructors, row)
	}
	return m, nil
}

func fromRunModel(m *models.SimulationRun) (*simulator.RunResult, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", m.ID, err)
	}
	seed, err := strconv.ParseUint(m.Seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("run %s seed %q: %w", m.ID, m.Seed, err)
	}
	run := &simulator.RunResult{
		ID:         id,
		RaceName:   m.RaceName,
		Series:     profile.Series(m.Series),
		Site:       m.Site,
		Seed:       seed,
		Iterations: m.Iterations,
		Retries:    m.Retries,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
	if err := unmarshal(m.TotalCautions, &run.TotalCautions); err != nil {
		return nil, fmt.Errorf("decode cautions: %w", err)
	}

	for _, row := range m.Competitors {
		co := simulator.CompetitorOutcomes{
			ID:               row.CompetitorID,
			Name:             row.Name,
			Team:             row.Team,
			StartingPosition: row.StartingPosition,
		}
		var arrays outcomeArrays
		if err := unmarshal(row.Outcomes, &arrays); err != nil {
			return nil, fmt.Errorf("decode outcomes for %s: %w", row.CompetitorID, err)
		}
		co.FinishingPosition = arrays.FinishingPosition
		co.OriginalSpeedRank = arrays.OriginalSpeedRank
		co.SpeedRank = arrays.SpeedRank
		co.LapsLed = arrays.LapsLed
		co.FastestLaps = arrays.FastestLaps
		co.FastestLap = arrays.FastestLap
		co.Incident = arrays.Incident
		co.Damage = arrays.Damage
		co.Penalty = arrays.Penalty
		if err := unmarshal(row.Scores, &co.Scores); err != nil {
			return nil, fmt.Errorf("decode scores for %s: %w", row.CompetitorID, err)
		}
		if err := unmarshal(row.CaptainScores, &co.CaptainScores); err != nil {
			return nil, fmt.Errorf("decode captain scores for %s: %w", row.CompetitorID, err)
		}
		if err := unmarshal(row.Summary, &co.Summary); err != nil {
			return nil, fmt.Errorf("decode summary for %s: %w", row.CompetitorID, err)
		}
		run.Competitors = append(run.Competitors, co)
	}

	for _, row := range m.Constructors {
		co := simulator.ConstructorOutcomes{ID: row.ConstructorID, Name: row.Name}
		if err := unmarshal(row.Scores, &co.Scores); err != nil {
			return nil, fmt.Errorf("decode scores for %s: %w", row.ConstructorID, err)
		}
		if err := unmarshal(row.Summary, &co.Summary); err != nil {
			return nil, fmt.Errorf("decode summary for %s: %w", row.ConstructorID, err)
		}
		run.Constructors = append(run.Constructors, co)
	}
	return run, nil
}

func toGTOModel(runID uuid.UUID, site string, res *gto.Result) (*models.GTOResult, error) {
	m := &models.GTOResult{
		RunID:                runID.String(),
		Site:                 site,
		Iterations:           res.Iterations,
		InfeasibleIterations: res.InfeasibleIterations,
	}
	var err error
	if m.Exposures, err = marshal(res.Exposures); err != nil {
		return nil, fmt.Errorf("encode exposures: %w", err)
	}
	if m.Pool, err = marshal(res.Pool); err != nil {
		return nil, fmt.Errorf("encode gto pool: %w", err)
	}
	return m, nil
}

func fromGTOModel(m *models.GTOResult) (*gto.Result, error) {
	res := &gto.Result{Iterations: m.Iterations, InfeasibleIterations: m.InfeasibleIterations}
	if err := unmarshal(m.Exposures, &res.Exposures); err != nil {
		return nil, fmt.Errorf("decode exposures: %w", err)
	}
	if err := unmarshal(m.Pool, &res.Pool); err != nil {
		return nil, fmt.Errorf("decode gto pool: %w", err)
	}
	return res, nil
}

// toLineupModel drops the per-iteration scores; they are rebuilt from the
// run with Candidate.Simulate when needed.
func toLineupModel(runID uuid.UUID, site string, c *lineup.Candidate) (*models.LineupCandidate, error) {
	m := &models.LineupCandidate{
		ID:          c.ID.String(),
		RunID:       runID.String(),
		Site:        site,
		TotalSalary: c.TotalSalary,
		Median:      c.Median,
		P75:         c.P75,
		P90:         c.P90,
		Duplicated:  c.Duplicated,
		Count:       c.Count,
		SortProj:    c.SortProj,
		RankMedian:  c.RankMedian,
		RankS75:     c.RankS75,
		RankS90:     c.RankS90,
		WinRate:     c.WinRate,
	}
	var err error
	if m.Players, err = marshal(c.Players); err != nil {
		return nil, fmt.Errorf("encode lineup players: %w", err)
	}
	if m.Slots, err = marshal(c.Slots); err != nil {
		return nil, fmt.Errorf("encode lineup slots: %w", err)
	}
	return m, nil
}

func fromLineupModel(m *models.LineupCandidate) (*lineup.Candidate, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("lineup id %q: %w", m.ID, err)
	}
	c := &lineup.Candidate{
		ID:          id,
		TotalSalary: m.TotalSalary,
		Median:      m.Median,
		P75:         m.P75,
		P90:         m.P90,
		Duplicated:  m.Duplicated,
		Count:       m.Count,
		SortProj:    m.SortProj,
		RankMedian:  m.RankMedian,
		RankS75:     m.RankS75,
		RankS90:     m.RankS90,
		WinRate:     m.WinRate,
	}
	var players []optimizer.Player
	if err := unmarshal(m.Players, &players); err != nil {
		return nil, fmt.Errorf("decode lineup players: %w", err)
	}
	c.Players = players
	if err := unmarshal(m.Slots, &c.Slots); err != nil {
		return nil, fmt.Errorf("decode lineup slots: %w", err)
	}
	return c, nil
}
