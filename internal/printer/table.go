package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/taskvisor/internal/model"
)

// TablePrinter prints installation information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

func (t *TablePrinter) newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
}

// PrintModules prints the modules and their availability.
func (t *TablePrinter) PrintModules(modules []model.ModuleStatus) error {
	if len(modules) == 0 {
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "SERVICE\tOPTIONAL\tAVAILABLE")
	for _, m := range modules {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Service, yesNo(m.Optional), yesNo(m.Available))
	}

	return nil
}

// PrintRequirements prints the requirements of the installation.
func (t *TablePrinter) PrintRequirements(reqs []model.Requirement) error {
	if len(reqs) == 0 {
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "TYPE\tNAME\tREASON")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Type, r.Name, r.Reason)
	}

	return nil
}

// PrintKickstartReport prints the messages of a kickstart report, a valid
// report without warnings prints a single line.
func (t *TablePrinter) PrintKickstartReport(report model.KickstartReport) error {
	if len(report.Errors) == 0 && len(report.Warnings) == 0 {
		fmt.Fprintln(t.writer, "Kickstart is valid")
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "LEVEL\tLINE\tMODULE\tMESSAGE")
	write := func(level string, msgs []model.KickstartMessage) {
		for _, m := range msgs {
			service := m.Service
			if service == "" {
				service = "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", level, m.LineNumber, service, m.Message)
		}
	}
	write("error", report.Errors)
	write("warning", report.Warnings)

	return nil
}

// PrintRuns prints the journaled phase runs with their steps.
func (t *TablePrinter) PrintRuns(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tPHASE\tSTEP\tSERVICE\tSTATUS\tCREATED")
	for _, r := range runs {
		for _, s := range r.Steps {
			status := string(s.Status)
			if s.Error != "" {
				status = fmt.Sprintf("%s (%s)", status, s.Error)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d. %s\t%s\t%s\t%s\n", r.ID, r.Phase, s.Sequence+1, s.Name, s.Service, status, TimeAgo(r.CreatedAt))
		}
	}

	return nil
}

// PrintProgress prints a progress line of a task.
func (t *TablePrinter) PrintProgress(task string, steps int, p model.Progress) error {
	pct := 100
	if steps > 0 {
		pct = p.Step * 100 / steps
	}
	fmt.Fprintf(t.writer, "[%3d%%] %s: %s\n", pct, task, p.Message)
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
