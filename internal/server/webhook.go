package server

import (
	"time"

	"github.com/Fullex26/autowatch/pkg/models"
)

// jiraUser covers both Cloud (accountId) and Server/Data Center (name, key)
type jiraUser struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Key       string `json:"key"`
}

func (u *jiraUser) toModel() models.User {
	if u == nil {
		return models.User{}
	}
	name := u.Name
	if name == "" {
		name = u.Key
	}
	return models.User{AccountID: u.AccountID, Name: name}
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

type jiraAuthored struct {
	Author *jiraUser `json:"author"`
}

// jiraWebhook is the subset of a Jira issue webhook body we read
type jiraWebhook struct {
	Timestamp          int64         `json:"timestamp"` // epoch millis
	WebhookEvent       string        `json:"webhookEvent"`
	IssueEventTypeName string        `json:"issue_event_type_name"`
	User               *jiraUser     `json:"user"`
	Issue              *jiraIssue    `json:"issue"`
	Comment            *jiraAuthored `json:"comment"`
	Worklog            *jiraAuthored `json:"worklog"`
}

// toEvent normalizes a webhook into an IssueEvent. ok is false when the
// body names no event, no acting user, or no issue.
func (w jiraWebhook) toEvent(deliveryID string) (models.IssueEvent, bool) {
	name := w.IssueEventTypeName
	if name == "" {
		name = w.WebhookEvent
	}
	kind, ok := models.KindFromJira(name)
	if !ok || w.Issue == nil {
		return models.IssueEvent{}, false
	}

	user := w.User.toModel()
	if user.ID() == "" && w.Comment != nil {
		user = w.Comment.Author.toModel()
	}
	if user.ID() == "" && w.Worklog != nil {
		user = w.Worklog.Author.toModel()
	}
	if user.ID() == "" {
		return models.IssueEvent{}, false
	}

	ts := time.Now()
	if w.Timestamp > 0 {
		ts = time.UnixMilli(w.Timestamp)
	}

	return models.IssueEvent{
		ID:   deliveryID,
		Kind: kind,
		User: user,
		Issue: models.Issue{
			ID:         w.Issue.ID,
			Key:        w.Issue.Key,
			ProjectKey: w.Issue.Fields.Project.Key,
		},
		Timestamp: ts,
		Source:    "jira",
	}, true
}
