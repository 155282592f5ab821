package profile

import "fmt"

// SampleNascar returns a plausible 3-stage Cup race with m cars. It backs the
// CLI's --sample flag and the fixtures of every package test.
func SampleNascar(m int) *RaceInput {
	in := &RaceInput{
		Site:       "draftkings",
		Iterations: 1000,
		Seed:       20240225,
		Race: Race{
			Name:                     "Sample 400",
			Series:                   SeriesNascar,
			SeriesLevel:              1,
			ScheduledLaps:            267,
			NumStages:                3,
			LapsPerCaution:           6.5,
			EarlyStage:               CautionModel{Mean: 1.0, ProbDebris: 0.1, ProbSmall: 0.4, ProbMedium: 0.2, ProbMajor: 0.3},
			FinalStage:               CautionModel{Mean: 3.0, ProbDebris: 0.1, ProbSmall: 0.4, ProbMedium: 0.2, ProbMajor: 0.3},
			TrackVariance:            2,
			TrackVarianceLateRestart: 4,
		},
	}

	for i := 0; i < m; i++ {
		in.Competitors = append(in.Competitors, Competitor{
			ID:               fmt.Sprintf("d%02d", i+1),
			Name:             fmt.Sprintf("Driver %d", i+1),
			Team:             fmt.Sprintf("team-%d", i/2+1),
			StartingPosition: i + 1,
			SpeedMin:         max(1, i+1-4),
			SpeedMax:         min(m, i+1+4),
			CrashRate:        0.02 + 0.001*float64(i),
			Salary:           11000 - i*180,
		})
	}

	in.Profiles.Damage = []DamageProfile{
		{Name: "Small Accident", MinCarsInvolved: 1, MaxCarsInvolved: 2, ProbNoDamage: 0.2, ProbMinorDamage: 0.3, ProbMediumDamage: 0.2, ProbDNF: 0.3},
		{Name: "Medium Accident", MinCarsInvolved: 3, MaxCarsInvolved: 6, ProbNoDamage: 0.15, ProbMinorDamage: 0.25, ProbMediumDamage: 0.2, ProbDNF: 0.4},
		{Name: "Major Accident", MinCarsInvolved: 7, MaxCarsInvolved: 12, ProbNoDamage: 0.1, ProbMinorDamage: 0.2, ProbMediumDamage: 0.2, ProbDNF: 0.5},
	}
	for stage := 1; stage <= in.Race.NumStages; stage++ {
		in.Profiles.Penalty = append(in.Profiles.Penalty,
			PenaltyProfile{Stage: stage, IsGreen: true, FloorImpact: 8, CeilingImpact: 2},
			PenaltyProfile{Stage: stage, IsGreen: false, FloorImpact: 4, CeilingImpact: 1},
		)
	}

	fastestLaps := []FastestLapsProfile{
		{EligibleSpeedMin: 1, EligibleSpeedMax: 1, PctMin: 0.15, PctMax: 0.30, CumMin: 0.15, CumMax: 0.30},
		{EligibleSpeedMin: 2, EligibleSpeedMax: 3, PctMin: 0.10, PctMax: 0.20, CumMin: 0.25, CumMax: 0.50},
		{EligibleSpeedMin: 4, EligibleSpeedMax: 6, PctMin: 0.05, PctMax: 0.15, CumMin: 0.30, CumMax: 0.65},
		{EligibleSpeedMin: 7, EligibleSpeedMax: 12, PctMin: 0.02, PctMax: 0.10, CumMin: 0.32, CumMax: 0.75},
		{EligibleSpeedMin: 13, EligibleSpeedMax: 20, PctMin: 0.01, PctMax: 0.05, CumMin: 0.33, CumMax: 0.80},
	}
	for _, fl := range fastestLaps {
		if fl.EligibleSpeedMin > m {
			break
		}
		fl.EligibleSpeedMax = min(fl.EligibleSpeedMax, m)
		in.Profiles.FastestLaps = append(in.Profiles.FastestLaps, fl)
	}

	lapsLed := []LapsLedProfile{
		{RankOrder: 1, PctMin: 0.25, PctMax: 0.55, CumMin: 0.25, CumMax: 0.55},
		{RankOrder: 2, PctMin: 0.10, PctMax: 0.30, CumMin: 0.40, CumMax: 0.80},
		{RankOrder: 3, PctMin: 0.05, PctMax: 0.20, CumMin: 0.45, CumMax: 0.95},
		{RankOrder: 4, PctMin: 0.02, PctMax: 0.10, CumMin: 0.47, CumMax: 1.0},
		{RankOrder: 5, PctMin: 0.01, PctMax: 0.05, CumMin: 0.48, CumMax: 1.0},
	}
	for _, ll := range lapsLed {
		if ll.RankOrder <= m {
			in.Profiles.LapsLed = append(in.Profiles.LapsLed, ll)
		}
	}

	return in
}

// SampleF1 returns a 20-driver, 10-constructor grand prix.
func SampleF1() *RaceInput {
	const m = 20
	in := &RaceInput{
		Site:       "draftkings",
		Iterations: 1000,
		Seed:       20240302,
		Race: Race{
			Name:          "Sample Grand Prix",
			Series:        SeriesF1,
			ScheduledLaps: 57,
		},
	}

	for i := 0; i < m; i++ {
		team := fmt.Sprintf("team-%d", i/2+1)
		salary := 10500 - i*350
		in.Competitors = append(in.Competitors, Competitor{
			ID:               fmt.Sprintf("f%02d", i+1),
			Name:             fmt.Sprintf("Driver %d", i+1),
			Team:             team,
			StartingPosition: i + 1,
			SpeedMin:         max(1, i+1-3),
			SpeedMax:         min(m, i+1+3),
			IncidentRate:     0.06 + 0.002*float64(i),
			LapsLedMin:       0,
			LapsLedMax:       max(0.05, 0.9-0.05*float64(i)),
			Salary:           salary,
			CaptainSalary:    salary * 3 / 2,
		})
	}
	for t := 0; t < m/2; t++ {
		in.Constructors = append(in.Constructors, Constructor{
			ID:      fmt.Sprintf("c%02d", t+1),
			Name:    fmt.Sprintf("Constructor %d", t+1),
			Salary:  8000 - t*450,
			Drivers: []string{fmt.Sprintf("f%02d", 2*t+1), fmt.Sprintf("f%02d", 2*t+2)},
		})
	}

	in.Profiles.FastestLap = []FastestLapProfile{
		{FinishRank: 1, Probability: 0.35},
		{FinishRank: 2, Probability: 0.25},
		{FinishRank: 3, Probability: 0.15},
		{FinishRank: 4, Probability: 0.10},
		{FinishRank: 5, Probability: 0.08},
		{FinishRank: 6, Probability: 0.07},
	}
	in.Profiles.LeaderCount = []LeaderCountProfile{
		{LeaderCount: 1, Probability: 0.3},
		{LeaderCount: 2, Probability: 0.4},
		{LeaderCount: 3, Probability: 0.2},
		{LeaderCount: 4, Probability: 0.1},
	}
	in.Profiles.F1LapsLed = []F1LapsLedProfile{
		{FinishRank: 1, PctMin: 0.5, PctMax: 0.9},
		{FinishRank: 2, PctMin: 0.1, PctMax: 0.4},
		{FinishRank: 3, PctMin: 0.05, PctMax: 0.2},
		{FinishRank: 4, PctMin: 0.01, PctMax: 0.1},
	}

	return in
}
