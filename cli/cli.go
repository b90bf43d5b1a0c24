// Package cli implements the operator control surface described in spec
// §6: a line-oriented command loop accepting start/pause/resume/status/exit,
// rendered with the teacher's go-pretty table convention (core/util.go
// PrintState).
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/evochora/evochora/manager"
)

var titleCaser = cases.Title(language.English)

// CLI reads commands from in and writes rendered output to out until it
// sees "exit" or "quit", or the input stream is exhausted.
type CLI struct {
	mgr *manager.Manager
	in  *bufio.Scanner
	out io.Writer
}

// New constructs a CLI over an already-running Manager.
func New(mgr *manager.Manager, in io.Reader, out io.Writer) *CLI {
	return &CLI{mgr: mgr, in: bufio.NewScanner(in), out: out}
}

// Run processes commands until exit/quit or EOF, returning nil in either
// case; a malformed or unknown command is reported to out and the loop
// continues (spec §6 "Error handling at the CLI boundary").
func (c *CLI) Run() error {
	for {
		fmt.Fprint(c.out, "> ")
		if !c.in.Scan() {
			return nil
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "status":
			c.printStatus()
		case "start", "pause", "resume":
			c.dispatch(cmd, args)
		default:
			fmt.Fprintf(c.out, "unknown command %q\n", cmd)
		}
	}
}

func (c *CLI) dispatch(cmd string, args []string) {
	if len(args) == 0 {
		switch cmd {
		case "pause":
			c.mgr.PauseAll()
		case "resume":
			c.mgr.ResumeAll()
		case "start":
			fmt.Fprintln(c.out, "start requires a running Manager.StartAll; already started at boot")
		}
		return
	}

	name := args[0]
	var err error
	switch cmd {
	case "pause":
		err = c.mgr.Pause(name)
	case "resume":
		err = c.mgr.Resume(name)
	case "start":
		fmt.Fprintln(c.out, "individual service start is not supported after boot")
		return
	}
	if err != nil {
		fmt.Fprintln(c.out, err)
	}
}

// printStatus renders the manager's per-service state as a table, matching
// the teacher's table.NewWriter()/AppendHeader/AppendRow/Render idiom.
func (c *CLI) printStatus() {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetTitle("Service Status")
	t.AppendHeader(table.Row{"Service", "State"})
	for _, row := range c.mgr.Status() {
		t.AppendRow(table.Row{titleCaser.String(row.Name), row.State})
	}
	t.Render()
}
