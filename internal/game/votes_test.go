package game

import "testing"

func ballot(voter, target string) Vote {
	return Vote{VoterID: voter, TargetID: target}
}

func TestResolveVotesPlurality(t *testing.T) {
	players := []Player{
		player("a", RoleVillager, true),
		player("b", RoleVillager, true),
		player("c", RoleVillager, true),
		player("d", RoleMafia, true),
	}
	outcome := ResolveVotes(players, []Vote{
		ballot("a", "d"),
		ballot("b", "d"),
		ballot("c", "d"),
		ballot("d", "a"),
	})
	if outcome.Tie {
		t.Fatal("expected a decisive vote")
	}
	if outcome.EliminatedID != "d" {
		t.Fatalf("expected d eliminated, got %q", outcome.EliminatedID)
	}
	if outcome.Counts["d"] != 3 || outcome.Counts["a"] != 1 {
		t.Fatalf("unexpected counts %v", outcome.Counts)
	}
}

func TestResolveVotesExactTie(t *testing.T) {
	players := []Player{
		player("a", RoleVillager, true),
		player("b", RoleVillager, true),
		player("c", RoleVillager, true),
		player("d", RoleMafia, true),
	}
	outcome := ResolveVotes(players, []Vote{
		ballot("a", "b"),
		ballot("b", "a"),
		ballot("c", "b"),
		ballot("d", "a"),
	})
	if !outcome.Tie {
		t.Fatal("expected tie")
	}
	if outcome.EliminatedID != "" {
		t.Fatalf("expected nobody eliminated, got %q", outcome.EliminatedID)
	}
}

func TestResolveVotesNobodyVotes(t *testing.T) {
	players := []Player{
		player("a", RoleVillager, true),
		player("b", RoleMafia, true),
	}
	outcome := ResolveVotes(players, nil)
	if !outcome.Tie || outcome.EliminatedID != "" {
		t.Fatalf("expected empty ballot to be a tie, got %+v", outcome)
	}
}

func TestResolveVotesIgnoresDeadVoters(t *testing.T) {
	players := []Player{
		player("a", RoleVillager, true),
		player("b", RoleVillager, true),
		player("ghost", RoleVillager, false),
	}
	outcome := ResolveVotes(players, []Vote{
		ballot("a", "b"),
		ballot("ghost", "a"),
		ballot("ghost", "a"),
	})
	if outcome.EliminatedID != "b" {
		t.Fatalf("expected b eliminated, got %q", outcome.EliminatedID)
	}
}

func TestCheckWinMafiaParity(t *testing.T) {
	players := []Player{
		player("m", RoleMafia, true),
		player("v", RoleVillager, true),
	}
	winner, over := CheckWin(players)
	if !over || winner != WinnerMafia {
		t.Fatalf("expected mafia win at parity, got %q over=%v", winner, over)
	}
}

func TestCheckWinVillagers(t *testing.T) {
	players := []Player{
		player("m", RoleMafia, false),
		player("a", RoleVillager, true),
		player("b", RoleDoctor, true),
	}
	winner, over := CheckWin(players)
	if !over || winner != WinnerVillagers {
		t.Fatalf("expected villagers win, got %q over=%v", winner, over)
	}
}

func TestCheckWinGameContinues(t *testing.T) {
	players := []Player{
		player("m", RoleMafia, true),
		player("a", RoleVillager, true),
		player("b", RoleVillager, true),
	}
	winner, over := CheckWin(players)
	if over || winner != "" {
		t.Fatalf("expected no winner yet, got %q over=%v", winner, over)
	}
}
