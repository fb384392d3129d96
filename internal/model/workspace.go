package model

import "strings"

// Workspace is the tenant boundary owning numbers and members.
type Workspace struct {
	ID      int64    `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Numbers []string `json:"numbers" yaml:"numbers"`
	Members []string `json:"members" yaml:"members"`
}

// HasNumber reports whether number is registered to the workspace.
func (w *Workspace) HasNumber(number string) bool {
	for _, n := range w.Numbers {
		if n == number {
			return true
		}
	}
	return false
}

// HasMember reports whether userID belongs to the workspace.
func (w *Workspace) HasMember(userID string) bool {
	for _, m := range w.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// NumberWithSuffix returns the registered numbers ending in suffix.
func (w *Workspace) NumberWithSuffix(suffix string) []string {
	var out []string
	for _, n := range w.Numbers {
		if suffix != "" && strings.HasSuffix(n, suffix) {
			out = append(out, n)
		}
	}
	return out
}
