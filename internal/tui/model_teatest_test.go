package tui

import (
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/x/exp/teatest/v2"
)

// waitFor blocks until the program output contains want.
func waitFor(t *testing.T, tm *teatest.TestModel, want string) {
	t.Helper()
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), want)
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))
}

// typeText sends text one rune at a time.
func typeText(tm *teatest.TestModel, text string) {
	for _, r := range text {
		tm.Send(tea.KeyPressMsg{Code: r, Text: string(r)})
	}
}

// TestModelWithTeatestEditUndoFlow drives the picker, an edit, undo, redo and the history panel.
func TestModelWithTeatestEditUndoFlow(t *testing.T) {
	svc, _ := newTestService(t)
	tm := teatest.NewTestModel(t, NewModel(svc), teatest.WithInitialTermSize(120, 35))

	waitFor(t, tm, "Launch Funnel")
	tm.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
	waitFor(t, tm, "Steps (2)")

	tm.Send(tea.KeyPressMsg{Code: 'n', Text: "n"})
	typeText(tm, "Thanks:thankyou")
	tm.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
	tm.Send(tea.KeyPressMsg{Code: 'z', Mod: tea.ModCtrl})
	tm.Send(tea.KeyPressMsg{Code: 'y', Mod: tea.ModCtrl})
	tm.Send(tea.KeyPressMsg{Code: 'h', Mod: tea.ModCtrl})
	waitFor(t, tm, "History (1)")

	if err := tm.Quit(); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}
	final, ok := tm.FinalModel(t, teatest.WithFinalTimeout(2*time.Second)).(Model)
	if !ok {
		t.Fatal("final model has unexpected type")
	}
	defer final.detachSession()
	if final.session == nil {
		t.Fatal("expected the editor to stay open")
	}
	steps := final.session.Current().Steps
	if len(steps) != 3 || steps[2].Name != "Thanks" {
		t.Fatalf("unexpected steps after redo %#v", steps)
	}
	if final.status != `redo: Added step "Thanks"` {
		t.Fatalf("status = %q", final.status)
	}
	if !final.showHistory {
		t.Fatal("expected history panel open")
	}
}

// TestModelWithTeatestHelpAndNewFunnel verifies expanded help and funnel creation.
func TestModelWithTeatestHelpAndNewFunnel(t *testing.T) {
	svc, _ := newTestService(t)
	tm := teatest.NewTestModel(t, NewModel(svc), teatest.WithInitialTermSize(120, 35))

	waitFor(t, tm, "Launch Funnel")
	tm.Send(tea.KeyPressMsg{Code: '?', Text: "?"})
	waitFor(t, tm, "toggle help")

	tm.Send(tea.KeyPressMsg{Code: 'N', Text: "N"})
	typeText(tm, "Webinar")
	tm.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
	waitFor(t, tm, "Steps (0)")

	tm.Send(tea.KeyPressMsg{Code: 'q', Text: "q"})
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final, ok := tm.FinalModel(t).(Model)
	if !ok {
		t.Fatal("final model has unexpected type")
	}
	if final.session != nil || final.registry.Len() != 0 {
		t.Fatalf("expected quit to close the session, registry=%d", final.registry.Len())
	}
	if len(final.funnels) != 2 {
		t.Fatalf("expected 2 funnels, got %d", len(final.funnels))
	}
}
