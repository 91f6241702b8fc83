package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/printer"
)

func modulesFixture() []model.ModuleStatus {
	return []model.ModuleStatus{
		{Module: model.Module{Service: "org.taskvisor.Module.Storage"}, Available: true},
		{Module: model.Module{Service: "org.taskvisor.Module.Users", Optional: true}},
	}
}

func runsFixture() []model.Run {
	return []model.Run{{
		ID:        "01JRUN",
		Phase:     model.PhaseInstallSystem,
		Name:      "Install the system",
		CreatedAt: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC),
		Steps: []model.Step{
			{Sequence: 0, Service: "org.taskvisor.Module.Storage", Name: "Create partitions", Status: model.StepStatusDone},
			{Sequence: 1, Service: "org.taskvisor.Module.Payloads", Name: "Install packages", Status: model.StepStatusFailed, Error: "no space left"},
		},
	}}
}

func TestTablePrinter(t *testing.T) {
	tests := map[string]struct {
		print    func(p printer.Printer) error
		expLines []string
	}{
		"Modules should be printed with their availability.": {
			print: func(p printer.Printer) error { return p.PrintModules(modulesFixture()) },
			expLines: []string{
				"SERVICE                       OPTIONAL  AVAILABLE",
				"org.taskvisor.Module.Storage  no        yes",
				"org.taskvisor.Module.Users    yes       no",
			},
		},

		"No modules should print nothing.": {
			print: func(p printer.Printer) error { return p.PrintModules(nil) },
		},

		"Requirements should be printed.": {
			print: func(p printer.Printer) error {
				return p.PrintRequirements([]model.Requirement{{Type: "package", Name: "lvm2", Reason: "LVM"}})
			},
			expLines: []string{
				"TYPE     NAME  REASON",
				"package  lvm2  LVM",
			},
		},

		"A valid kickstart report should print a message.": {
			print:    func(p printer.Printer) error { return p.PrintKickstartReport(model.KickstartReport{}) },
			expLines: []string{"Kickstart is valid"},
		},

		"A kickstart report should print its messages.": {
			print: func(p printer.Printer) error {
				return p.PrintKickstartReport(model.KickstartReport{
					Errors:   []model.KickstartMessage{{LineNumber: 3, Message: `unknown command "bogus"`}},
					Warnings: []model.KickstartMessage{{Service: "storage", LineNumber: 7, Message: "deprecated"}},
				})
			},
			expLines: []string{
				"LEVEL    LINE  MODULE   MESSAGE",
				`error    3     -        unknown command "bogus"`,
				"warning  7     storage  deprecated",
			},
		},

		"Progress should be printed with its percentage.": {
			print: func(p printer.Printer) error {
				return p.PrintProgress("Install the system", 4, model.Progress{Step: 1, Message: "Create partitions (1/2)"})
			},
			expLines: []string{"[ 25%] Install the system: Create partitions (1/2)"},
		},

		"Progress of a task without steps should be complete.": {
			print: func(p printer.Printer) error {
				return p.PrintProgress("Empty", 0, model.Progress{Message: "Done"})
			},
			expLines: []string{"[100%] Empty: Done"},
		},

		"A message should be printed as it is.": {
			print:    func(p printer.Printer) error { return p.PrintMessage("ok") },
			expLines: []string{"ok"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := test.print(printer.NewTablePrinter(&buf))
			require.NoError(t, err)

			var lines []string
			for _, l := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
				if l != "" {
					lines = append(lines, strings.TrimRight(l, " "))
				}
			}
			assert.Equal(t, test.expLines, lines)
		})
	}
}

func TestTablePrinterPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printer.NewTablePrinter(&buf).PrintRuns(runsFixture()))

	out := buf.String()
	assert.Contains(t, out, "1. Create partitions")
	assert.Contains(t, out, "failed (no space left)")
	assert.Contains(t, out, "install-system")
}

func TestJSONPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintModules(modulesFixture()))
	assert.Contains(t, buf.String(), `"service": "org.taskvisor.Module.Users"`)
	assert.Contains(t, buf.String(), `"optional": true`)

	buf.Reset()
	require.NoError(t, p.PrintKickstartReport(model.KickstartReport{}))
	assert.JSONEq(t, `{"valid": true, "errors": [], "warnings": []}`, buf.String())

	buf.Reset()
	require.NoError(t, p.PrintProgress("Install the system", 5, model.Progress{Step: 2, Message: "Installing"}))
	assert.JSONEq(t, `{"task": "Install the system", "step": 2, "steps": 5, "message": "Installing"}`, buf.String())

	buf.Reset()
	require.NoError(t, p.PrintRuns(runsFixture()))
	assert.Contains(t, buf.String(), `"created_at": "2026-10-14T10:00:00Z"`)
	assert.Contains(t, buf.String(), `"error": "no space left"`)
}
