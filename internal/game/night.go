package game

// Inspection is a detective's private result for one night.
type Inspection struct {
	DetectiveID string
	TargetID    string
	Role        string
}

// NightResolution is the outcome of resolving one night's actions.
type NightResolution struct {
	// KilledID is the participant who died, empty when nobody did.
	KilledID string
	// SavedID is set when a doctor save actually cancelled the kill.
	SavedID string
	// Inspections carries one private result per acting detective.
	Inspections []Inspection
}

// ResolveNight applies the night's submitted actions to the role-augmented
// player set. The kill target is the plurality choice among kill actions from
// alive mafia; an exact tie means no kill. A doctor save on the chosen target
// cancels it, and a mafia target is never lethal regardless of the vote.
func ResolveNight(players []Player, actions []Action) NightResolution {
	byID := make(map[string]Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	killVotes := make(map[string]int)
	saves := make(map[string]bool)
	var resolution NightResolution

	for _, action := range actions {
		actor, ok := byID[action.ParticipantID]
		if !ok || !actor.Alive {
			continue
		}
		switch action.Kind {
		case ActionKill:
			if actor.Role != RoleMafia {
				continue
			}
			if _, ok := byID[action.TargetID]; ok {
				killVotes[action.TargetID]++
			}
		case ActionSave:
			if actor.Role != RoleDoctor {
				continue
			}
			saves[action.TargetID] = true
		case ActionInspect:
			if actor.Role != RoleDetective {
				continue
			}
			if target, ok := byID[action.TargetID]; ok {
				resolution.Inspections = append(resolution.Inspections, Inspection{
					DetectiveID: actor.ID,
					TargetID:    target.ID,
					Role:        target.Role,
				})
			}
		}
	}

	target, decided := pluralityTarget(killVotes)
	if !decided {
		return resolution
	}
	victim, ok := byID[target]
	if !ok || !victim.Alive {
		return resolution
	}
	// Friendly fire never lands.
	if victim.Role == RoleMafia {
		return resolution
	}
	if saves[target] {
		resolution.SavedID = target
		return resolution
	}
	resolution.KilledID = target
	return resolution
}

// pluralityTarget picks the target with strictly the most votes. An exact tie
// among the top targets, or no votes at all, yields no target.
func pluralityTarget(votes map[string]int) (string, bool) {
	best := ""
	bestCount := 0
	tied := false
	for target, count := range votes {
		switch {
		case count > bestCount:
			best, bestCount, tied = target, count, false
		case count == bestCount:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return "", false
	}
	return best, true
}
