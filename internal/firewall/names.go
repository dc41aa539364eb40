package firewall

import "regexp"

var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func isValidName(name string) bool {
	return len(name) <= 64 && validNameRegex.MatchString(name)
}
