package api

import "strings"

// managerRoles may create and import tasks.
var managerRoles = []string{"Fund Manager", "Compliance Officer", "Fund Admin", "Admin"}

func isManager(role string) bool {
	for _, r := range managerRoles {
		if strings.EqualFold(strings.TrimSpace(role), r) {
			return true
		}
	}
	return false
}
