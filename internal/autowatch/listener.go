package autowatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/Fullex26/autowatch/pkg/models"
)

const (
	// ListenerName is the name the listener is registered under in the host
	ListenerName = "Autowatch Listener"
	// ImplementationID identifies this listener type to the host's factory table
	ImplementationID = "autowatch.Listener"

	ParamInclude = "Comma-separated project keys to include"
	ParamExclude = "Comma-separated project keys to exclude"
)

// Journal receives one entry per handled event
type Journal interface {
	Record(activity models.Activity) error
}

type handlerFunc func(ctx context.Context, event models.IssueEvent) (models.Outcome, error)

// Listener is the host-facing side of the decision. Every kind of event that
// means a user touched an issue routes to the same handler.
type Listener struct {
	registry WatcherRegistry
	journal  Journal
	rule     WatchRule
	handlers map[models.EventKind]handlerFunc
}

// NewListener creates a listener with no project restrictions. journal may be nil.
func NewListener(registry WatcherRegistry, journal Journal) *Listener {
	l := &Listener{
		registry: registry,
		journal:  journal,
		rule:     NewWatchRule(nil, nil),
		handlers: make(map[models.EventKind]handlerFunc, len(models.TouchKinds)),
	}
	for _, k := range models.TouchKinds {
		l.handlers[k] = l.watchIssue
	}
	return l
}

// Init reads the include/exclude parameters. A nil map or a missing key
// leaves that list empty. Must be called before the first event.
func (l *Listener) Init(params map[string]string) {
	var include, exclude []string
	if v, ok := params[ParamInclude]; ok {
		include = ParseProjectKeys(v)
	}
	if v, ok := params[ParamExclude]; ok {
		exclude = ParseProjectKeys(v)
	}
	l.rule = NewWatchRule(include, exclude)
}

// Rule returns the rule loaded by Init
func (l *Listener) Rule() WatchRule { return l.rule }

// AcceptedParams lists the parameter names Init understands
func (l *Listener) AcceptedParams() []string {
	return []string{ParamExclude, ParamInclude}
}

func (l *Listener) Description() string {
	return "Automatically adds users to an issue's watcher list, so that people who " +
		"comment on or edit an issue get notified of updates but can still opt out " +
		"by unwatching it. Leave both lists blank to apply to all projects. List " +
		"keys under 'project keys to include' to limit it to those projects, or under " +
		"'project keys to exclude' to apply it everywhere else. If both lists are used, " +
		"only projects included and not excluded get the feature."
}

// Name is the name the listener registers under
func (l *Listener) Name() string { return ListenerName }

// Unique reports that the host should hold a single instance of this listener
func (l *Listener) Unique() bool { return true }

// HandleEvent routes an event through the dispatch table. Kinds that are not
// a user touching the issue are journaled as ignored without reaching the
// registry. Registry errors are returned to the host.
func (l *Listener) HandleEvent(ctx context.Context, event models.IssueEvent) error {
	h, ok := l.handlers[event.Kind]
	if !ok {
		slog.Debug("event ignored", "kind", event.Kind, "issue", event.Issue.Ref())
		l.record(event, models.OutcomeIgnored)
		return nil
	}

	outcome, err := h(ctx, event)
	if err != nil {
		return err
	}

	slog.Debug("autowatch decision",
		"kind", event.Kind,
		"user", event.User.ID(),
		"issue", event.Issue.Ref(),
		"project", event.Issue.ProjectKey,
		"outcome", outcome,
	)
	l.record(event, outcome)
	return nil
}

func (l *Listener) watchIssue(ctx context.Context, event models.IssueEvent) (models.Outcome, error) {
	return Decide(ctx, l.rule, l.registry, event.User, event.Issue)
}

func (l *Listener) record(event models.IssueEvent, outcome models.Outcome) {
	if l.journal == nil {
		return
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	err := l.journal.Record(models.Activity{
		EventID:    event.ID,
		Kind:       event.Kind,
		UserID:     event.User.ID(),
		IssueKey:   event.Issue.Ref(),
		ProjectKey: event.Issue.ProjectKey,
		Outcome:    outcome,
		Timestamp:  ts,
	})
	if err != nil {
		slog.Error("failed to record activity", "issue", event.Issue.Ref(), "error", err)
	}
}
