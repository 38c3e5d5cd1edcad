package models

import "time"

// EventKind categorises what the user did to the issue
type EventKind string

const (
	KindCreated       EventKind = "issue.created"
	KindCommented     EventKind = "issue.commented"
	KindCommentEdited EventKind = "issue.comment_edited"
	KindAssigned      EventKind = "issue.assigned"
	KindClosed        EventKind = "issue.closed"
	KindReopened      EventKind = "issue.reopened"
	KindResolved      EventKind = "issue.resolved"
	KindWorkStarted   EventKind = "issue.work_started"
	KindWorkStopped   EventKind = "issue.work_stopped"
	KindMoved         EventKind = "issue.moved"
	KindUpdated       EventKind = "issue.updated"
	KindWorkLogged    EventKind = "issue.work_logged"
	KindGeneric       EventKind = "issue.generic"
	KindCustom        EventKind = "issue.custom"   // any event the tracker does not name
	KindDeleted       EventKind = "issue.deleted"  // not a user touching a live issue
)

// TouchKinds lists every kind that means "a user touched this issue"
var TouchKinds = []EventKind{
	KindCreated,
	KindCommented,
	KindCommentEdited,
	KindAssigned,
	KindClosed,
	KindReopened,
	KindResolved,
	KindWorkStarted,
	KindWorkStopped,
	KindMoved,
	KindUpdated,
	KindWorkLogged,
	KindGeneric,
	KindCustom,
}

// jiraEventNames maps Jira's issue_event_type_name / webhookEvent values onto kinds.
var jiraEventNames = map[string]EventKind{
	"issue_created":        KindCreated,
	"jira:issue_created":   KindCreated,
	"issue_commented":      KindCommented,
	"comment_created":      KindCommented,
	"issue_comment_edited": KindCommentEdited,
	"comment_updated":      KindCommentEdited,
	"issue_assigned":       KindAssigned,
	"issue_closed":         KindClosed,
	"issue_reopened":       KindReopened,
	"issue_resolved":       KindResolved,
	"issue_work_started":   KindWorkStarted,
	"issue_work_stopped":   KindWorkStopped,
	"issue_moved":          KindMoved,
	"issue_updated":        KindUpdated,
	"jira:issue_updated":   KindUpdated,
	"issue_worklogged":     KindWorkLogged,
	"worklog_created":      KindWorkLogged,
	"issue_generic":        KindGeneric,
	"issue_deleted":        KindDeleted,
	"jira:issue_deleted":   KindDeleted,
}

// KindFromJira maps a Jira event name to a kind. Names Jira does not define
// for issues are treated as custom events; an empty name yields false.
func KindFromJira(name string) (EventKind, bool) {
	if name == "" {
		return "", false
	}
	if k, ok := jiraEventNames[name]; ok {
		return k, true
	}
	return KindCustom, true
}

// Outcome records what the auto-watch decision did with an event
type Outcome string

const (
	OutcomeExcluded        Outcome = "excluded"
	OutcomeNotIncluded     Outcome = "not_included"
	OutcomeAlreadyWatching Outcome = "already_watching"
	OutcomeWatched         Outcome = "watched"
	OutcomeIgnored         Outcome = "ignored"
)

// User identifies the acting user. Cloud instances send an account id,
// Server/Data Center instances send a user name.
type User struct {
	AccountID string `json:"account_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// ID returns the identifier used when talking to a watcher registry
func (u User) ID() string {
	if u.AccountID != "" {
		return u.AccountID
	}
	return u.Name
}

// Issue is the part of an issue the decision needs
type Issue struct {
	ID         string `json:"id"`
	Key        string `json:"key"`         // e.g. "PROD-42"
	ProjectKey string `json:"project_key"` // e.g. "PROD"
}

// Ref returns the key if known, else the numeric id
func (i Issue) Ref() string {
	if i.Key != "" {
		return i.Key
	}
	return i.ID
}

// IssueEvent is one lifecycle occurrence delivered by the host
type IssueEvent struct {
	ID        string    `json:"id"` // delivery id, empty when the host sends none
	Kind      EventKind `json:"kind"`
	User      User      `json:"user"`
	Issue     Issue     `json:"issue"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // which adapter produced this
}

// Activity is the journal entry written for every handled event
type Activity struct {
	EventID    string    `json:"event_id"`
	Kind       EventKind `json:"kind"`
	UserID     string    `json:"user_id"`
	IssueKey   string    `json:"issue_key"`
	ProjectKey string    `json:"project_key"`
	Outcome    Outcome   `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}
