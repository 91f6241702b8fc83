// Package module publishes installer modules on the bus and gives access to
// the remote ones.
//
// A module is a bus service that publishes its root object under the path
// of its service name with the `org.taskvisor.Module` interface. Its tasks
// are published on demand under the tasks namespace of the module.
package module

import (
	"github.com/slok/taskvisor/internal/bus"
	"github.com/slok/taskvisor/internal/model"
)

const (
	// Interface is the bus interface of the module root objects.
	Interface = "org.taskvisor.Module"

	MethodSetLocale           = "SetLocale"
	MethodCollectRequirements = "CollectRequirements"
	MethodKickstartCommands   = "KickstartCommands"
	MethodReadKickstart       = "ReadKickstart"
	MethodGenerateKickstart   = "GenerateKickstart"
	MethodQuit                = "Quit"
)

// RootPath returns the object path of the root object of a module.
func RootPath(service string) bus.ObjectPath { return bus.ServicePath(service) }

// TasksPath returns the namespace of the tasks of a module.
func TasksPath(service string) bus.ObjectPath { return RootPath(service).Child("Tasks") }

// RequirementValue is the bus representation of a requirement.
type RequirementValue struct {
	Type   string
	Name   string
	Reason string
}

// KickstartMessageValue is the bus representation of a kickstart message.
type KickstartMessageValue struct {
	LineNumber int32
	Message    string
}

// KickstartReportValue is the bus representation of a kickstart report.
type KickstartReportValue struct {
	Errors   []KickstartMessageValue
	Warnings []KickstartMessageValue
}

func toRequirementValues(reqs []model.Requirement) []RequirementValue {
	out := make([]RequirementValue, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, RequirementValue(r))
	}
	return out
}

func fromRequirementValues(vs []RequirementValue) []model.Requirement {
	out := make([]model.Requirement, 0, len(vs))
	for _, v := range vs {
		out = append(out, model.Requirement(v))
	}
	return out
}

func toReportValue(r model.KickstartReport) KickstartReportValue {
	conv := func(msgs []model.KickstartMessage) []KickstartMessageValue {
		out := make([]KickstartMessageValue, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, KickstartMessageValue{LineNumber: int32(m.LineNumber), Message: m.Message})
		}
		return out
	}
	return KickstartReportValue{Errors: conv(r.Errors), Warnings: conv(r.Warnings)}
}

func fromReportValue(service string, v KickstartReportValue) model.KickstartReport {
	conv := func(msgs []KickstartMessageValue) []model.KickstartMessage {
		var out []model.KickstartMessage
		for _, m := range msgs {
			out = append(out, model.KickstartMessage{Service: service, LineNumber: int(m.LineNumber), Message: m.Message})
		}
		return out
	}
	return model.KickstartReport{Errors: conv(v.Errors), Warnings: conv(v.Warnings)}
}
