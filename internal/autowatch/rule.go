// Package autowatch decides whether the user acting on an issue should be
// added to that issue's watcher list, and adds them when so.
package autowatch

import (
	"strings"

	"github.com/Fullex26/autowatch/pkg/models"
)

// WatchRule restricts auto-watching to a set of projects. An empty list
// places no restriction on its dimension. The zero value watches everything.
type WatchRule struct {
	include []string
	exclude []string
}

// NewWatchRule builds a rule from include and exclude project keys
func NewWatchRule(include, exclude []string) WatchRule {
	return WatchRule{
		include: compact(include),
		exclude: compact(exclude),
	}
}

// Include returns a copy of the included project keys
func (r WatchRule) Include() []string { return append([]string{}, r.include...) }

// Exclude returns a copy of the excluded project keys
func (r WatchRule) Exclude() []string { return append([]string{}, r.exclude...) }

// Allows reports whether issues in projectKey get auto-watched.
// Exclusion is checked first and wins when a key is on both lists.
func (r WatchRule) Allows(projectKey string) bool {
	return r.verdict(projectKey) == ""
}

// verdict returns the outcome for a filtered-out project, or "" when it passes.
func (r WatchRule) verdict(projectKey string) models.Outcome {
	if len(r.exclude) > 0 && containsFold(r.exclude, projectKey) {
		return models.OutcomeExcluded
	}
	if len(r.include) > 0 && !containsFold(r.include, projectKey) {
		return models.OutcomeNotIncluded
	}
	return ""
}

// ParseProjectKeys splits a comma-separated list, trimming whitespace around
// each key. Empty entries are dropped, so "" yields an empty list.
func ParseProjectKeys(value string) []string {
	keys := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// containsFold is a case-insensitive membership test. An empty key never matches.
func containsFold(keys []string, key string) bool {
	if key == "" {
		return false
	}
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func compact(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
