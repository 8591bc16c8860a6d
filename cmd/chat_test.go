package cmd

import (
	"strings"
	"testing"
)

func TestREPLHandleInput(t *testing.T) {
	st := &replState{agentID: "main", sessionKey: "agent:main:cli:dm:local"}
	var out strings.Builder

	if got := st.handleInput("   ", &out); got != replIgnore {
		t.Errorf("blank input: action = %v", got)
	}
	if len(st.history) != 0 {
		t.Error("blank input recorded in history")
	}

	if got := st.handleInput("  hello there  ", &out); got != replSend {
		t.Errorf("message: action = %v", got)
	}
	if len(st.history) != 1 || st.history[0] != "hello there" {
		t.Errorf("history = %v, want trimmed message", st.history)
	}

	if got := st.handleInput("exit", &out); got != replExit {
		t.Errorf("exit: action = %v", got)
	}
	if got := st.handleInput("/exit", &out); got != replExit {
		t.Errorf("/exit: action = %v", got)
	}
}

func TestREPLCommands(t *testing.T) {
	st := &replState{agentID: "main", sessionKey: "agent:main:cli:dm:local"}
	var out strings.Builder

	oldKey := st.sessionKey
	if got := st.handleInput("/new", &out); got != replHandled {
		t.Errorf("/new: action = %v", got)
	}
	if st.sessionKey == oldKey {
		t.Error("/new did not rotate the session key")
	}
	if !strings.Contains(out.String(), "New session:") {
		t.Errorf("/new output = %q", out.String())
	}

	out.Reset()
	if got := st.handleInput("/agent coder", &out); got != replHandled {
		t.Errorf("/agent: action = %v", got)
	}
	if st.agentID != "coder" {
		t.Errorf("agent = %q, want coder", st.agentID)
	}

	out.Reset()
	st.handleInput("/session", &out)
	if !strings.Contains(out.String(), st.sessionKey) {
		t.Errorf("/session output = %q", out.String())
	}

	out.Reset()
	st.handleInput("/bogus", &out)
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("unknown command output = %q", out.String())
	}
}

func TestREPLHistoryCommand(t *testing.T) {
	st := &replState{agentID: "main", sessionKey: "k"}
	var out strings.Builder

	st.handleInput("first", &out)
	st.handleInput("second", &out)

	out.Reset()
	st.handleInput("/history", &out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// /history itself is recorded before it prints.
	if len(lines) != 3 || lines[0] != "first" || lines[1] != "second" {
		t.Errorf("history output = %q", out.String())
	}
}
