package optimizer

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/profile"
)

// PositionSlot represents a position slot in a lineup
type PositionSlot struct {
	SlotName         string   `json:"slot_name"`         // e.g., "D", "CPT"
	AllowedPositions []string `json:"allowed_positions"` // e.g., ["D"]
	Priority         int      `json:"priority"`          // Fill order (1 = first)
	IsRequired       bool     `json:"is_required"`
}

// GetPositionSlots returns the position slots for a given series and site
func GetPositionSlots(series profile.Series, site string) []PositionSlot {
	var slots []PositionSlot
	switch series {
	case profile.SeriesNascar:
		slots = getNascarSlots(site)
	case profile.SeriesF1:
		slots = getF1Slots(site)
	}
	if len(slots) == 0 {
		logrus.WithFields(logrus.Fields{"series": series, "site": site}).Warn("No roster slots for series and site")
	}
	return slots
}

func getNascarSlots(site string) []PositionSlot {
	if site != "draftkings" {
		return nil
	}
	slots := make([]PositionSlot, 6)
	for i := range slots {
		slots[i] = PositionSlot{SlotName: profile.PositionDriver, AllowedPositions: []string{profile.PositionDriver}, Priority: i + 1, IsRequired: true}
	}
	return slots
}

func getF1Slots(site string) []PositionSlot {
	if site != "draftkings" {
		return nil
	}
	slots := []PositionSlot{
		{SlotName: profile.PositionCaptain, AllowedPositions: []string{profile.PositionCaptain}, Priority: 1, IsRequired: true},
	}
	for i := 0; i < 4; i++ {
		slots = append(slots, PositionSlot{SlotName: profile.PositionDriver, AllowedPositions: []string{profile.PositionDriver}, Priority: 2 + i, IsRequired: true})
	}
	return append(slots, PositionSlot{SlotName: profile.PositionConstructor, AllowedPositions: []string{profile.PositionConstructor}, Priority: 6, IsRequired: true})
}

// HasSlot reports whether any slot is named name.
func HasSlot(slots []PositionSlot, name string) bool {
	for _, s := range slots {
		if s.SlotName == name {
			return true
		}
	}
	return false
}

// CanPlayerFillSlot checks if a player can fill a specific slot
func CanPlayerFillSlot(player Player, slot PositionSlot) bool {
	for _, pos := range player.Positions {
		for _, allowed := range slot.AllowedPositions {
			if pos == allowed {
				return true
			}
		}
	}
	return false
}

// slotGroup is a run of slots with identical eligibility, filled together.
type slotGroup struct {
	names   []string
	allowed []string
}

func groupSlots(slots []PositionSlot) []slotGroup {
	ordered := append([]PositionSlot(nil), slots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var groups []slotGroup
	index := make(map[string]int)
	for _, s := range ordered {
		allowed := append([]string(nil), s.AllowedPositions...)
		sort.Strings(allowed)
		key := strings.Join(allowed, "|")
		g, ok := index[key]
		if !ok {
			g = len(groups)
			index[key] = g
			groups = append(groups, slotGroup{allowed: allowed})
		}
		groups[g].names = append(groups[g].names, s.SlotName)
	}
	return groups
}
