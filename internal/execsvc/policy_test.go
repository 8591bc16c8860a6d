package execsvc

import (
	"testing"

	"github.com/clawdbot/clawdbot/internal/approvals"
)

func TestMinSecurity_Lattice(t *testing.T) {
	levels := []string{approvals.SecurityDeny, approvals.SecurityAllowlist, approvals.SecurityFull}

	// Commutative.
	for _, a := range levels {
		for _, b := range levels {
			if MinSecurity(a, b) != MinSecurity(b, a) {
				t.Errorf("MinSecurity not commutative on (%s,%s)", a, b)
			}
		}
	}

	// Associative.
	for _, a := range levels {
		for _, b := range levels {
			for _, c := range levels {
				if MinSecurity(MinSecurity(a, b), c) != MinSecurity(a, MinSecurity(b, c)) {
					t.Errorf("MinSecurity not associative on (%s,%s,%s)", a, b, c)
				}
			}
		}
	}

	// deny absorbs.
	for _, a := range levels {
		if MinSecurity(a, approvals.SecurityDeny) != approvals.SecurityDeny {
			t.Errorf("deny should absorb %s", a)
		}
	}

	if MinSecurity(approvals.SecurityFull, approvals.SecurityAllowlist) != approvals.SecurityAllowlist {
		t.Error("full ∧ allowlist should be allowlist")
	}
	if MinSecurity("", approvals.SecurityFull) != approvals.SecurityFull {
		t.Error("empty should defer to the other side")
	}
}

func TestMaxAsk_Lattice(t *testing.T) {
	modes := []string{approvals.AskOff, approvals.AskOnMiss, approvals.AskAlways}

	for _, a := range modes {
		for _, b := range modes {
			if MaxAsk(a, b) != MaxAsk(b, a) {
				t.Errorf("MaxAsk not commutative on (%s,%s)", a, b)
			}
			for _, c := range modes {
				if MaxAsk(MaxAsk(a, b), c) != MaxAsk(a, MaxAsk(b, c)) {
					t.Errorf("MaxAsk not associative on (%s,%s,%s)", a, b, c)
				}
			}
		}
	}

	for _, a := range modes {
		if MaxAsk(a, approvals.AskAlways) != approvals.AskAlways {
			t.Errorf("always should absorb %s", a)
		}
	}
	if MaxAsk(approvals.AskOff, approvals.AskOnMiss) != approvals.AskOnMiss {
		t.Error("off ∨ on-miss should be on-miss")
	}
}

func TestClampYield(t *testing.T) {
	if clampYield(0) != defaultYield {
		t.Error("zero should default")
	}
	if clampYield(1) != minYield {
		t.Error("below floor should clamp up")
	}
	if clampYield(10_000_000) != maxYield {
		t.Error("above ceiling should clamp down")
	}
}

func TestFirstToken(t *testing.T) {
	tests := map[string]string{
		`rg -n foo`:           "rg",
		`"my tool" --x`:       "my tool",
		`FOO=1 BAR=2 rg -n x`: "rg",
		`/usr/bin/env ls`:     "/usr/bin/env",
		``:                    "",
	}
	for in, want := range tests {
		if got := firstToken(in); got != want {
			t.Errorf("firstToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShellArgv(t *testing.T) {
	argv := shellArgv("linux", "uname -a")
	if len(argv) != 3 || argv[0] != "sh" || argv[1] != "-lc" {
		t.Errorf("unix argv: %v", argv)
	}
	argv = shellArgv("windows", "dir")
	if argv[0] != "cmd" || argv[1] != "/s" || argv[2] != "/c" {
		t.Errorf("windows argv: %v", argv)
	}
}
