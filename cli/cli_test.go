package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/evochora/evochora/cli"
	"github.com/evochora/evochora/manager"
)

func TestExitReturnsNilImmediately(t *testing.T) {
	mgr := manager.New()
	in := strings.NewReader("exit\n")
	out := &bytes.Buffer{}
	if err := cli.New(mgr, in, out).Run(); err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}
}

func TestUnknownCommandReportsAndContinues(t *testing.T) {
	mgr := manager.New()
	in := strings.NewReader("frobnicate\nexit\n")
	out := &bytes.Buffer{}
	if err := cli.New(mgr, in, out).Run(); err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}
	if !strings.Contains(out.String(), `unknown command "frobnicate"`) {
		t.Fatalf("output = %q, missing unknown-command message", out.String())
	}
}

func TestStatusRendersServiceTable(t *testing.T) {
	mgr := manager.New()
	in := strings.NewReader("status\nexit\n")
	out := &bytes.Buffer{}
	if err := cli.New(mgr, in, out).Run(); err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}
	if !strings.Contains(out.String(), "Service Status") {
		t.Fatalf("output = %q, missing table title", out.String())
	}
}

func TestPauseUnknownServiceNameReportsError(t *testing.T) {
	mgr := manager.New()
	in := strings.NewReader("pause bogus\nexit\n")
	out := &bytes.Buffer{}
	if err := cli.New(mgr, in, out).Run(); err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}
	if !strings.Contains(out.String(), "unknown service") {
		t.Fatalf("output = %q, missing unknown-service error", out.String())
	}
}
