package nats

import (
	"testing"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

func TestChangeSubjectsNestUnderWorkspaceFilter(t *testing.T) {
	tests := []struct {
		workspace int64
		table     model.Table
		want      string
	}{
		{7, model.TableMessages, "chg.7.messages"},
		{7, model.TableReadStatus, "chg.7.read_status"},
		{12, model.TableGroupConversations, "chg.12.group_conversations"},
	}
	for _, tt := range tests {
		if got := ChangeSubject(tt.workspace, tt.table); got != tt.want {
			t.Fatalf("ChangeSubject(%d, %s) = %q, want %q", tt.workspace, tt.table, got, tt.want)
		}
	}
	if got := WorkspaceFilter(7); got != "chg.7.>" {
		t.Fatalf("WorkspaceFilter(7) = %q", got)
	}
}

func TestDedupIDChangesWithVersion(t *testing.T) {
	a := model.Change{Table: model.TableMessages, RowID: "m1", Version: 1}
	b := model.Change{Table: model.TableMessages, RowID: "m1", Version: 2}
	if a.DedupID() == b.DedupID() {
		t.Fatalf("expected distinct dedup ids for distinct versions")
	}
	if a.DedupID() != "messages:m1:1" {
		t.Fatalf("unexpected dedup id %q", a.DedupID())
	}
}
