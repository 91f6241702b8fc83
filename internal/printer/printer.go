package printer

import "github.com/slok/taskvisor/internal/model"

// Printer knows how to print installation information in different formats.
type Printer interface {
	PrintModules(modules []model.ModuleStatus) error
	PrintRequirements(reqs []model.Requirement) error
	PrintKickstartReport(report model.KickstartReport) error
	PrintRuns(runs []model.Run) error
	PrintProgress(task string, steps int, p model.Progress) error
	PrintMessage(msg string) error
}

var (
	_ Printer = &TablePrinter{}
	_ Printer = &JSONPrinter{}
)
