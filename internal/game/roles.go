package game

import (
	"errors"
	"math/rand"
	"sort"
)

// MinParticipants is the smallest lobby that can start a game: one mafia, one
// doctor, one detective and at least one villager.
const MinParticipants = 4

var ErrInsufficientPlayers = errors.New("at least 4 players are required")

// MafiaCountFor returns how many mafia a game of n participants gets.
func MafiaCountFor(n int) int {
	switch {
	case n <= 6:
		return 1
	case n <= 12:
		return 2
	case n <= 18:
		return 3
	case n <= 21:
		return 4
	default:
		count := int(float64(n) / 5.5)
		if count < 4 {
			count = 4
		}
		return count
	}
}

// AssignRoles deals roles to the given participants: mafia per the breakpoint
// table, exactly one doctor, exactly one detective, villagers for the rest.
// Participant order and role order are shuffled independently before zipping
// so neither join order nor slot order predicts a role.
func AssignRoles(rng *rand.Rand, participants []Participant) (map[string]string, error) {
	if len(participants) < MinParticipants {
		return nil, ErrInsufficientPlayers
	}

	mafia := MafiaCountFor(len(participants))
	roles := make([]string, 0, len(participants))
	for i := 0; i < mafia; i++ {
		roles = append(roles, RoleMafia)
	}
	roles = append(roles, RoleDoctor, RoleDetective)
	for len(roles) < len(participants) {
		roles = append(roles, RoleVillager)
	}

	order := make([]string, len(participants))
	for i, p := range participants {
		order[i] = p.ID
	}
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	assigned := make(map[string]string, len(participants))
	for i, id := range order {
		assigned[id] = roles[i]
	}

	// Safety net kept from the rules as written: a deal with zero mafia can
	// only happen if the counting above is broken, but if it does, force the
	// first participant to mafia rather than start an unwinnable game.
	hasMafia := false
	for _, role := range assigned {
		if role == RoleMafia {
			hasMafia = true
			break
		}
	}
	if !hasMafia {
		assigned[participants[0].ID] = RoleMafia
	}
	return assigned, nil
}

// MafiaTeammates lists the mafia member ids other than self.
func MafiaTeammates(roles map[string]string, self string) []string {
	var mates []string
	for id, role := range roles {
		if role == RoleMafia && id != self {
			mates = append(mates, id)
		}
	}
	sort.Strings(mates)
	return mates
}
