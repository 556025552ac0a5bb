package models

import (
	"testing"
	"time"
)

func TestNewSessionDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession("573001112233", now)
	if s.Flow != FlowNone || s.Step != 0 {
		t.Errorf("expected NONE at step 0, got %s/%d", s.Flow, s.Step)
	}
	if !s.LastUpdated.Equal(now) {
		t.Errorf("expected last updated %v, got %v", now, s.LastUpdated)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("default session should be valid: %v", err)
	}
}

func TestSessionCloneDoesNotAlias(t *testing.T) {
	s := Session{
		UserID:          "u1",
		Flow:            FlowRegistering,
		CollectedFields: []Field{{Name: "name", Value: "Jane Doe"}},
	}
	c := s.Clone()
	c.CollectedFields[0].Value = "changed"
	c.CollectedFields = append(c.CollectedFields, Field{Name: "phone", Value: "1"})
	if s.CollectedFields[0].Value != "Jane Doe" || len(s.CollectedFields) != 1 {
		t.Errorf("clone mutated the original: %+v", s.CollectedFields)
	}
}

func TestSessionField(t *testing.T) {
	s := Session{CollectedFields: []Field{{Name: "name", Value: "Jane Doe"}}}
	if v, ok := s.Field("name"); !ok || v != "Jane Doe" {
		t.Errorf("expected name field, got %q/%v", v, ok)
	}
	if _, ok := s.Field("email"); ok {
		t.Error("expected missing email field")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := Session{LastUpdated: now.Add(-25 * time.Hour)}
	if !s.Expired(now, 24*time.Hour) {
		t.Error("expected session idle for 25h to be expired with a 24h TTL")
	}
	if s.Expired(now, 0) {
		t.Error("zero TTL must disable expiry")
	}
	if (Session{LastUpdated: now.Add(-time.Hour)}).Expired(now, 24*time.Hour) {
		t.Error("recent session should not be expired")
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{"idle", Session{UserID: "u", Flow: FlowNone}, false},
		{"idle with fields", Session{UserID: "u", Flow: FlowNone, CollectedFields: []Field{{Name: "a"}}}, true},
		{"registering", Session{UserID: "u", Flow: FlowRegistering, Step: 2}, false},
		{"registering with history", Session{UserID: "u", Flow: FlowRegistering, AIHistory: []HistoryEntry{{Role: RoleUser}}}, true},
		{"chat with pairs", Session{UserID: "u", Flow: FlowAIChat, AIHistory: []HistoryEntry{{Role: RoleUser}, {Role: RoleAssistant}}}, false},
		{"chat with odd history", Session{UserID: "u", Flow: FlowAIChat, AIHistory: []HistoryEntry{{Role: RoleUser}}}, true},
		{"unknown flow", Session{UserID: "u", Flow: "OTHER"}, true},
		{"missing user", Session{Flow: FlowNone}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionConstructors(t *testing.T) {
	a := ButtonsAction("u", "pick", Button{ID: "register", Title: "Register"})
	if a.Kind != ActionSendButtons || len(a.Buttons) != 1 || a.To != "u" {
		t.Errorf("unexpected buttons action: %+v", a)
	}
	l := ListAction("u", "pick", "Options", ListSection{Rows: []ListRow{{ID: "x", Title: "X"}}})
	if l.Kind != ActionSendList || l.ButtonText != "Options" || len(l.Sections) != 1 {
		t.Errorf("unexpected list action: %+v", l)
	}
	if TextAction("u", "hi").Kind != ActionSendText {
		t.Error("expected send_text kind")
	}
}

func TestResponseHelpers(t *testing.T) {
	if r := Success(nil); r.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %s", r.Status)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response %+v", r)
	}
	if r := Ignored("malformed"); r.Status != string(APIStatusIgnored) {
		t.Errorf("unexpected ignored response %+v", r)
	}
}

func TestInboundMessageIsSelection(t *testing.T) {
	if !(InboundMessage{Kind: KindButtonReply}).IsSelection() || !(InboundMessage{Kind: KindListReply}).IsSelection() {
		t.Error("button and list replies are selections")
	}
	if (InboundMessage{Kind: KindText}).IsSelection() {
		t.Error("text is not a selection")
	}
}
