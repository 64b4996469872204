package server

import "strings"

// parseSessionPath splits /api/sessions/{id}[/{action}] into its parts.
func parseSessionPath(path string) (string, string, bool) {
	const prefix = "/api/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", "", false
	}
	sessionID := parts[0]
	if len(parts) == 1 {
		return sessionID, "", true
	}
	if len(parts) == 2 {
		return sessionID, parts[1], true
	}
	return "", "", false
}

// parseSecretsPath splits /api/sessions/{id}/secrets/{participant}[/pull].
func parseSecretsPath(path string) (sessionID, participantID, sub string, ok bool) {
	const prefix = "/api/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 3 || parts[1] != "secrets" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		return parts[0], parts[2], "", true
	}
	if len(parts) == 4 {
		return parts[0], parts[2], parts[3], true
	}
	return "", "", "", false
}

func parseWebsocketPath(path string) (string, bool) {
	const prefix = "/ws/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
