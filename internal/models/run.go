package models

import (
	"time"

	"gorm.io/datatypes"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SimulationRun is a persisted aggregated run. Per-iteration arrays live on
// the competitor and constructor rows as JSON columns.
type SimulationRun struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	RaceName      string         `gorm:"size:255" json:"race_name"`
	Series        string         `gorm:"size:20;index" json:"series"`
	Site          string         `gorm:"size:50" json:"site"`
	Seed          string         `gorm:"size:20" json:"seed"`
	Iterations    int            `gorm:"not null" json:"iterations"`
	Retries       int            `json:"retries"`
	Status        string         `gorm:"size:20;default:completed" json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `gorm:"index" json:"finished_at"`
	TotalCautions datatypes.JSON `json:"total_cautions,omitempty"`
	Input         datatypes.JSON `json:"-"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	Competitors  []CompetitorResult  `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"competitors,omitempty"`
	Constructors []ConstructorResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"constructors,omitempty"`
}

func (SimulationRun) TableName() string {
	return "simulation_runs"
}

// CompetitorResult holds one competitor's arrays for a run. Averages are
// copied out of Summary so runs can be queried without decoding JSON.
type CompetitorResult struct {
	ID               uint   `gorm:"primaryKey" json:"-"`
	RunID            string `gorm:"size:36;not null;index" json:"run_id"`
	Ordinal          int    `gorm:"not null" json:"ordinal"`
	CompetitorID     string `gorm:"size:64;not null" json:"competitor_id"`
	Name             string `gorm:"size:255" json:"name"`
	Team             string `gorm:"size:255" json:"team"`
	StartingPosition int    `json:"starting_position"`

	Outcomes      datatypes.JSON `json:"outcomes"`
	Scores        datatypes.JSON `json:"scores"`
	CaptainScores datatypes.JSON `json:"captain_scores,omitempty"`
	Summary       datatypes.JSON `json:"summary"`

	AvgFinish      float64 `json:"avg_finish"`
	AvgLapsLed     float64 `json:"avg_laps_led"`
	AvgFastestLaps float64 `json:"avg_fastest_laps"`
}

func (CompetitorResult) TableName() string {
	return "competitor_results"
}

type ConstructorResult struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	RunID         string         `gorm:"size:36;not null;index" json:"run_id"`
	Ordinal       int            `gorm:"not null" json:"ordinal"`
	ConstructorID string         `gorm:"size:64;not null" json:"constructor_id"`
	Name          string         `gorm:"size:255" json:"name"`
	Scores        datatypes.JSON `json:"scores"`
	Summary       datatypes.JSON `json:"summary"`
}

func (ConstructorResult) TableName() string {
	return "constructor_results"
}

// GTOResult stores one exposure estimate per run and site.
type GTOResult struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	RunID                string         `gorm:"size:36;not null;uniqueIndex:idx_gto_run_site" json:"run_id"`
	Site                 string         `gorm:"size:50;not null;uniqueIndex:idx_gto_run_site" json:"site"`
	Iterations           int            `json:"iterations"`
	InfeasibleIterations int            `json:"infeasible_iterations"`
	Exposures            datatypes.JSON `json:"exposures"`
	Pool                 datatypes.JSON `json:"pool"`
	CreatedAt            time.Time      `json:"created_at"`
}

func (GTOResult) TableName() string {
	return "gto_results"
}

// LineupCandidate is a ranked lineup produced by a build.
type LineupCandidate struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	RunID       string         `gorm:"size:36;not null;index:idx_lineup_run_rank" json:"run_id"`
	Site        string         `gorm:"size:50" json:"site"`
	Players     datatypes.JSON `json:"players"`
	Slots       datatypes.JSON `json:"slots"`
	TotalSalary int            `json:"total_salary"`
	Median      float64        `json:"median"`
	P75         float64        `json:"s75"`
	P90         float64        `json:"s90"`
	Duplicated  int            `json:"duplicated"`
	Count       int            `json:"count"`
	SortProj    float64        `gorm:"index:idx_lineup_run_rank" json:"sort_proj"`
	RankMedian  float64        `json:"rank_median"`
	RankS75     float64        `json:"rank_s75"`
	RankS90     float64        `json:"rank_s90"`
	WinRate     float64        `json:"win_rate"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (LineupCandidate) TableName() string {
	return "lineup_candidates"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&SimulationRun{},
		&CompetitorResult{},
		&ConstructorResult{},
		&GTOResult{},
		&LineupCandidate{},
	}
}
