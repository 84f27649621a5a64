package argv

import (
	"slices"
	"testing"
)

func TestParseDetectsControlFlags(t *testing.T) {
	c := Parse([]string{"toolset=gcc", "--daemon", "--daemon-output", "variant=release"})
	if !c.Start || !c.Output {
		t.Fatalf("expected start and output flags, got %+v", c)
	}
	if c.Stop || c.Second {
		t.Fatalf("unexpected flags set: %+v", c)
	}
	if c := Parse([]string{"--daemon-stop"}); !c.Stop {
		t.Fatalf("expected stop flag, got %+v", c)
	}
}

func TestParseIsExactMatch(t *testing.T) {
	c := Parse([]string{"--daemonize", "--daemon=1", "daemon"})
	if c != (Control{}) {
		t.Fatalf("expected no control flags, got %+v", c)
	}
}

func TestStripRemovesOnlyControlFlags(t *testing.T) {
	in := []string{"--daemon", "-j4", "--daemon-second", "lib", "--daemon-output"}
	got := Strip(in)
	if want := []string{"-j4", "lib"}; !slices.Equal(got, want) {
		t.Fatalf("Strip = %v, want %v", got, want)
	}
	if len(in) != 5 {
		t.Fatalf("input mutated: %v", in)
	}
	if got := Strip(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

