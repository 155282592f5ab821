package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// ExposureManager handles portfolio-level exposure constraints
type ExposureManager struct {
	numLineups   int
	defaultMax   float64
	playerCount  map[string]int
	maxExposures map[string]float64
	minExposures map[string]float64
	totalLineups int
	log          *logrus.Entry
}

// ExposureReport provides detailed exposure analysis
type ExposureReport struct {
	PlayerExposures []PlayerExposure `json:"player_exposures"`
	TotalLineups    int              `json:"total_lineups"`
	Violations      []string         `json:"violations"`
}

// PlayerExposure represents exposure for a single player
type PlayerExposure struct {
	PlayerID    string  `json:"player_id"`
	PlayerName  string  `json:"player_name"`
	Count       int     `json:"count"`
	Exposure    float64 `json:"exposure"`
	MaxAllowed  float64 `json:"max_allowed"`
	MinRequired float64 `json:"min_required"`
	IsViolation bool    `json:"is_violation"`
}

// NewExposureManager creates a new exposure manager
func NewExposureManager(players []Player, c Constraints, log *logrus.Entry) *ExposureManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	em := &ExposureManager{
		numLineups:   max(c.NumLineups, 1),
		defaultMax:   c.MaxExposure,
		playerCount:  make(map[string]int),
		maxExposures: make(map[string]float64),
		minExposures: make(map[string]float64),
		log:          log,
	}
	if em.defaultMax <= 0 || em.defaultMax > 1 {
		em.defaultMax = 1
	}
	for _, p := range players {
		em.SetPlayerExposureLimit(p.ID, p.MaxExposure, p.MinExposure)
	}
	return em
}

// SetPlayerExposureLimit sets custom exposure limits for a specific player.
// Limits outside (0, 1] are ignored.
func (em *ExposureManager) SetPlayerExposureLimit(playerID string, maxExposure, minExposure float64) {
	if maxExposure > 0 && maxExposure <= 1 {
		em.maxExposures[playerID] = maxExposure
	}
	if minExposure > 0 && minExposure <= 1 {
		em.minExposures[playerID] = minExposure
	}
}

// CanAddPlayer checks if one more lineup with the player stays within its cap.
func (em *ExposureManager) CanAddPlayer(playerID string) bool {
	limit := int(math.Floor(em.getMaxPlayerExposure(playerID)*float64(em.numLineups) + 1e-9))
	if em.playerCount[playerID]+1 > limit {
		em.log.Debugf("Player %s would exceed exposure: %d of %d lineups", playerID, em.playerCount[playerID]+1, em.numLineups)
		return false
	}
	return true
}

// AddLineup records a completed lineup.
func (em *ExposureManager) AddLineup(l Lineup) {
	for _, p := range l.Players {
		em.playerCount[p.ID]++
	}
	em.totalLineups++
}

// CheckMinExposures checks if minimum exposure requirements are met
func (em *ExposureManager) CheckMinExposures(players []Player) []string {
	violations := make([]string, 0)
	if em.totalLineups == 0 {
		return violations
	}
	for _, p := range players {
		minExp, ok := em.minExposures[p.ID]
		if !ok {
			continue
		}
		current := float64(em.playerCount[p.ID]) / float64(em.totalLineups)
		if current < minExp {
			violations = append(violations,
				fmt.Sprintf("Player %s has %.1f%% exposure, requires %.1f%%", label(p), current*100, minExp*100))
		}
	}
	return violations
}

// GenerateExposureReport creates an exposure report over the lineups added so far.
func (em *ExposureManager) GenerateExposureReport(players []Player) *ExposureReport {
	report := &ExposureReport{
		PlayerExposures: make([]PlayerExposure, 0),
		TotalLineups:    em.totalLineups,
		Violations:      em.CheckMinExposures(players),
	}
	if em.totalLineups == 0 {
		return report
	}

	for _, p := range players {
		count := em.playerCount[p.ID]
		if count == 0 {
			continue
		}
		exposure := float64(count) / float64(em.totalLineups)
		maxAllowed := em.getMaxPlayerExposure(p.ID)
		minRequired := em.minExposures[p.ID]
		isViolation := exposure > maxAllowed+1e-9 || exposure < minRequired
		if exposure > maxAllowed+1e-9 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("Player %s: %.1f%% > %.1f%%", label(p), exposure*100, maxAllowed*100))
		}
		report.PlayerExposures = append(report.PlayerExposures, PlayerExposure{
			PlayerID:    p.ID,
			PlayerName:  p.Name(),
			Count:       count,
			Exposure:    exposure,
			MaxAllowed:  maxAllowed,
			MinRequired: minRequired,
			IsViolation: isViolation,
		})
	}

	sort.SliceStable(report.PlayerExposures, func(i, j int) bool {
		return report.PlayerExposures[i].Exposure > report.PlayerExposures[j].Exposure
	})
	return report
}

func (em *ExposureManager) getMaxPlayerExposure(playerID string) float64 {
	if exposure, exists := em.maxExposures[playerID]; exists {
		return exposure
	}
	return em.defaultMax
}

func label(p Player) string {
	if name := p.Name(); name != "" {
		return name
	}
	return p.ID
}
