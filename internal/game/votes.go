package game

// VoteOutcome is the result of tallying a voting round.
type VoteOutcome struct {
	EliminatedID string
	Tie          bool
	Counts       map[string]int
}

// ResolveVotes tallies day votes. Only votes cast by currently alive voters
// count; the target with a strict plurality is eliminated. An exact tie among
// the top targets eliminates nobody, as does an empty ballot.
func ResolveVotes(players []Player, votes []Vote) VoteOutcome {
	alive := make(map[string]bool, len(players))
	for _, p := range players {
		if p.Alive {
			alive[p.ID] = true
		}
	}

	counts := make(map[string]int)
	for _, vote := range votes {
		if !alive[vote.VoterID] {
			continue
		}
		if !alive[vote.TargetID] {
			continue
		}
		counts[vote.TargetID]++
	}

	target, decided := pluralityTarget(counts)
	if !decided {
		return VoteOutcome{Tie: true, Counts: counts}
	}
	return VoteOutcome{EliminatedID: target, Counts: counts}
}

// CheckWin reports the winning faction, if any. Villagers win once no mafia
// remain; mafia win at parity with the rest of the town, not only at
// majority.
func CheckWin(players []Player) (string, bool) {
	mafia := 0
	others := 0
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleMafia {
			mafia++
		} else {
			others++
		}
	}
	if mafia == 0 {
		return WinnerVillagers, true
	}
	if mafia >= others {
		return WinnerMafia, true
	}
	return "", false
}
