package profile

// Series selects the race model.
type Series string

const (
	SeriesNascar Series = "nascar"
	SeriesF1     Series = "f1"
)

// Roster positions used by the DraftKings motorsport formats.
const (
	PositionDriver      = "D"
	PositionCaptain     = "CPT"
	PositionConstructor = "CNSTR"
)

// Competitor holds the static, per-race inputs for one driver.
// Speeds are rank-like: lower is faster.
type Competitor struct {
	ID               string  `yaml:"id" json:"id"`
	Name             string  `yaml:"name" json:"name"`
	Team             string  `yaml:"team" json:"team"`
	StartingPosition int     `yaml:"starting_position" json:"starting_position"`
	SpeedMin         int     `yaml:"speed_min" json:"speed_min"`
	SpeedMax         int     `yaml:"speed_max" json:"speed_max"`
	IncidentRate     float64 `yaml:"incident_rate" json:"incident_rate"`
	CrashRate        float64 `yaml:"crash_rate" json:"crash_rate"`
	StrategyFactor   float64 `yaml:"strategy_factor" json:"strategy_factor"`
	// Laps-led capability as a fraction of scheduled laps. A zero max means uncapped.
	LapsLedMin    float64 `yaml:"pct_laps_led_min" json:"pct_laps_led_min"`
	LapsLedMax    float64 `yaml:"pct_laps_led_max" json:"pct_laps_led_max"`
	Salary        int     `yaml:"salary" json:"salary"`
	CaptainSalary int     `yaml:"captain_salary,omitempty" json:"captain_salary,omitempty"`
}

// Constructor is an F1 team entry scored from its two drivers.
type Constructor struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Salary  int      `yaml:"salary" json:"salary"`
	Drivers []string `yaml:"drivers" json:"drivers"`
}

// CautionModel parameterizes caution frequency and severity for a group of stages.
type CautionModel struct {
	Mean       float64 `yaml:"mean" json:"mean"`
	ProbDebris float64 `yaml:"prob_debris" json:"prob_debris"`
	ProbSmall  float64 `yaml:"prob_accident_small" json:"prob_accident_small"`
	ProbMedium float64 `yaml:"prob_accident_medium" json:"prob_accident_medium"`
	ProbMajor  float64 `yaml:"prob_accident_major" json:"prob_accident_major"`
}

type Race struct {
	Name   string `yaml:"name" json:"name"`
	Series Series `yaml:"series" json:"series"`
	// NASCAR series level: 1 Cup, 2 Xfinity, 3 Trucks.
	SeriesLevel    int     `yaml:"series_level" json:"series_level"`
	ScheduledLaps  int     `yaml:"scheduled_laps" json:"scheduled_laps"`
	NumStages      int     `yaml:"num_stages" json:"num_stages"`
	LapsPerCaution float64 `yaml:"laps_per_caution" json:"laps_per_caution"`
	// Overrides the series-level pit penalty rate when positive.
	PitPenaltyMean           float64      `yaml:"pit_penalty_mean" json:"pit_penalty_mean"`
	EarlyStage               CautionModel `yaml:"early_stage" json:"early_stage"`
	FinalStage               CautionModel `yaml:"final_stage" json:"final_stage"`
	TrackVariance            float64      `yaml:"track_variance" json:"track_variance"`
	TrackVarianceLateRestart float64      `yaml:"track_variance_late_restart" json:"track_variance_late_restart"`
}

// DamageProfile maps a wreck size to damage outcome weights.
type DamageProfile struct {
	Name             string  `yaml:"name" json:"name"`
	MinCarsInvolved  int     `yaml:"min_cars_involved" json:"min_cars_involved"`
	MaxCarsInvolved  int     `yaml:"max_cars_involved" json:"max_cars_involved"`
	ProbNoDamage     float64 `yaml:"prob_no_damage" json:"prob_no_damage"`
	ProbMinorDamage  float64 `yaml:"prob_minor_damage" json:"prob_minor_damage"`
	ProbMediumDamage float64 `yaml:"prob_medium_damage" json:"prob_medium_damage"`
	ProbDNF          float64 `yaml:"prob_dnf" json:"prob_dnf"`
}

// PenaltyProfile widens the finishing window of a car penalized in a stage.
// FloorImpact is added to the window ceiling and CeilingImpact to the floor.
type PenaltyProfile struct {
	Stage         int     `yaml:"stage" json:"stage"`
	IsGreen       bool    `yaml:"is_green" json:"is_green"`
	FloorImpact   float64 `yaml:"floor_impact" json:"floor_impact"`
	CeilingImpact float64 `yaml:"ceiling_impact" json:"ceiling_impact"`
}

// FastestLapsProfile awards a share of green-flag laps to a speed-rank band.
type FastestLapsProfile struct {
	EligibleSpeedMin int     `yaml:"eligible_speed_min" json:"eligible_speed_min"`
	EligibleSpeedMax int     `yaml:"eligible_speed_max" json:"eligible_speed_max"`
	PctMin           float64 `yaml:"pct_fastest_laps_min" json:"pct_fastest_laps_min"`
	PctMax           float64 `yaml:"pct_fastest_laps_max" json:"pct_fastest_laps_max"`
	CumMin           float64 `yaml:"cum_fastest_laps_min" json:"cum_fastest_laps_min"`
	CumMax           float64 `yaml:"cum_fastest_laps_max" json:"cum_fastest_laps_max"`
}

// LapsLedProfile awards a share of scheduled laps to the car at RankOrder
// in the fastest-laps ordering.
type LapsLedProfile struct {
	RankOrder int     `yaml:"rank_order" json:"rank_order"`
	PctMin    float64 `yaml:"pct_laps_led_min" json:"pct_laps_led_min"`
	PctMax    float64 `yaml:"pct_laps_led_max" json:"pct_laps_led_max"`
	CumMin    float64 `yaml:"cum_laps_led_min" json:"cum_laps_led_min"`
	CumMax    float64 `yaml:"cum_laps_led_max" json:"cum_laps_led_max"`
}

// FastestLapProfile is the F1 single fastest-lap award by finishing rank.
type FastestLapProfile struct {
	FinishRank  int     `yaml:"fp_rank" json:"fp_rank"`
	Probability float64 `yaml:"probability" json:"probability"`
}

// LeaderCountProfile is the F1 distribution of how many drivers lead laps.
type LeaderCountProfile struct {
	LeaderCount int     `yaml:"leader_count" json:"leader_count"`
	Probability float64 `yaml:"probability" json:"probability"`
}

// F1LapsLedProfile bounds the laps-led share of the driver at FinishRank.
type F1LapsLedProfile struct {
	FinishRank int     `yaml:"fp_rank" json:"fp_rank"`
	PctMin     float64 `yaml:"pct_laps_led_min" json:"pct_laps_led_min"`
	PctMax     float64 `yaml:"pct_laps_led_max" json:"pct_laps_led_max"`
}

type Profiles struct {
	Damage      []DamageProfile      `yaml:"damage" json:"damage,omitempty"`
	Penalty     []PenaltyProfile     `yaml:"penalty" json:"penalty,omitempty"`
	FastestLaps []FastestLapsProfile `yaml:"fastest_laps" json:"fastest_laps,omitempty"`
	LapsLed     []LapsLedProfile     `yaml:"laps_led" json:"laps_led,omitempty"`
	FastestLap  []FastestLapProfile  `yaml:"fastest_lap" json:"fastest_lap,omitempty"`
	LeaderCount []LeaderCountProfile `yaml:"leader_count" json:"leader_count,omitempty"`
	F1LapsLed   []F1LapsLedProfile   `yaml:"f1_laps_led" json:"f1_laps_led,omitempty"`
}

// RaceInput is everything a simulation run needs, as loaded from a sim input file.
type RaceInput struct {
	Site         string        `yaml:"site" json:"site"`
	Iterations   int           `yaml:"iterations" json:"iterations"`
	Seed         uint64        `yaml:"seed" json:"seed"`
	Race         Race          `yaml:"race" json:"race"`
	Competitors  []Competitor  `yaml:"competitors" json:"competitors"`
	Constructors []Constructor `yaml:"constructors" json:"constructors,omitempty"`
	Profiles     Profiles      `yaml:"profiles" json:"profiles"`
}
