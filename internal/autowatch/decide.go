package autowatch

import (
	"context"
	"fmt"

	"github.com/Fullex26/autowatch/pkg/models"
)

// WatcherRegistry is the host's record of who watches which issue
type WatcherRegistry interface {
	IsWatching(ctx context.Context, user models.User, issue models.Issue) (bool, error)
	StartWatching(ctx context.Context, user models.User, issue models.Issue) error
}

// Decide applies rule to the issue's project and, when allowed, makes user a
// watcher unless they already are. Registry failures are returned as-is in
// meaning and never retried; the next qualifying event tries again.
func Decide(ctx context.Context, rule WatchRule, registry WatcherRegistry, user models.User, issue models.Issue) (models.Outcome, error) {
	if o := rule.verdict(issue.ProjectKey); o != "" {
		return o, nil
	}

	watching, err := registry.IsWatching(ctx, user, issue)
	if err != nil {
		return "", fmt.Errorf("checking watchers of %s: %w", issue.Ref(), err)
	}
	if watching {
		return models.OutcomeAlreadyWatching, nil
	}

	if err := registry.StartWatching(ctx, user, issue); err != nil {
		return "", fmt.Errorf("adding %s to watchers of %s: %w", user.ID(), issue.Ref(), err)
	}
	return models.OutcomeWatched, nil
}
