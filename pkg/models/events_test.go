package models

import "testing"

func TestKindFromJira(t *testing.T) {
	tests := []struct {
		name   string
		want   EventKind
		wantOK bool
	}{
		{"issue_created", KindCreated, true},
		{"jira:issue_created", KindCreated, true},
		{"issue_commented", KindCommented, true},
		{"comment_created", KindCommented, true},
		{"issue_comment_edited", KindCommentEdited, true},
		{"issue_assigned", KindAssigned, true},
		{"issue_closed", KindClosed, true},
		{"issue_reopened", KindReopened, true},
		{"issue_resolved", KindResolved, true},
		{"issue_work_started", KindWorkStarted, true},
		{"issue_work_stopped", KindWorkStopped, true},
		{"issue_moved", KindMoved, true},
		{"issue_updated", KindUpdated, true},
		{"issue_worklogged", KindWorkLogged, true},
		{"issue_generic", KindGeneric, true},
		{"issue_deleted", KindDeleted, true},
		{"my_custom_transition", KindCustom, true},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindFromJira(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("KindFromJira(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTouchKinds_ExcludesDeleted(t *testing.T) {
	for _, k := range TouchKinds {
		if k == KindDeleted {
			t.Fatal("deleted must not count as touching an issue")
		}
	}
	if len(TouchKinds) != 14 {
		t.Errorf("TouchKinds count = %d, want 14", len(TouchKinds))
	}
}

func TestUser_ID(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"account id wins", User{AccountID: "5b10ac", Name: "alice"}, "5b10ac"},
		{"name fallback", User{Name: "alice"}, "alice"},
		{"zero value", User{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIssue_Ref(t *testing.T) {
	if got := (Issue{ID: "10001", Key: "PROD-1"}).Ref(); got != "PROD-1" {
		t.Errorf("Ref() = %q, want PROD-1", got)
	}
	if got := (Issue{ID: "10001"}).Ref(); got != "10001" {
		t.Errorf("Ref() = %q, want 10001", got)
	}
}
