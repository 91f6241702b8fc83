package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/taskvisor/internal/model"
)

// JSONPrinter prints installation information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type moduleOutput struct {
	Service   string `json:"service"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
}

type requirementOutput struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type kickstartMessageOutput struct {
	Service    string `json:"service,omitempty"`
	LineNumber int    `json:"line_number"`
	Message    string `json:"message"`
}

type kickstartReportOutput struct {
	Valid    bool                     `json:"valid"`
	Errors   []kickstartMessageOutput `json:"errors"`
	Warnings []kickstartMessageOutput `json:"warnings"`
}

type runOutput struct {
	ID        string       `json:"id"`
	Phase     string       `json:"phase"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Steps     []stepOutput `json:"steps"`
}

type stepOutput struct {
	Sequence int    `json:"sequence"`
	Service  string `json:"service"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type progressOutput struct {
	Task    string `json:"task"`
	Step    int    `json:"step"`
	Steps   int    `json:"steps"`
	Message string `json:"message"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func (j *JSONPrinter) PrintModules(modules []model.ModuleStatus) error {
	items := make([]moduleOutput, len(modules))
	for i, m := range modules {
		items[i] = moduleOutput{Service: m.Service, Optional: m.Optional, Available: m.Available}
	}
	return j.encode(items)
}

func (j *JSONPrinter) PrintRequirements(reqs []model.Requirement) error {
	items := make([]requirementOutput, len(reqs))
	for i, r := range reqs {
		items[i] = requirementOutput(r)
	}
	return j.encode(items)
}

func (j *JSONPrinter) PrintKickstartReport(report model.KickstartReport) error {
	conv := func(msgs []model.KickstartMessage) []kickstartMessageOutput {
		out := make([]kickstartMessageOutput, len(msgs))
		for i, m := range msgs {
			out[i] = kickstartMessageOutput(m)
		}
		return out
	}
	return j.encode(kickstartReportOutput{
		Valid:    report.IsValid(),
		Errors:   conv(report.Errors),
		Warnings: conv(report.Warnings),
	})
}

func (j *JSONPrinter) PrintRuns(runs []model.Run) error {
	items := make([]runOutput, len(runs))
	for i, r := range runs {
		steps := make([]stepOutput, len(r.Steps))
		for k, s := range r.Steps {
			steps[k] = stepOutput{
				Sequence: s.Sequence,
				Service:  s.Service,
				Name:     s.Name,
				Status:   string(s.Status),
				Error:    s.Error,
			}
		}
		items[i] = runOutput{
			ID:        r.ID,
			Phase:     string(r.Phase),
			Name:      r.Name,
			CreatedAt: r.CreatedAt.UTC(),
			Steps:     steps,
		}
	}
	return j.encode(items)
}

// PrintProgress prints a progress report as a single JSON line.
func (j *JSONPrinter) PrintProgress(task string, steps int, p model.Progress) error {
	return json.NewEncoder(j.writer).Encode(progressOutput{Task: task, Step: p.Step, Steps: steps, Message: p.Message})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
