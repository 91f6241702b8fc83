package fake

import (
	"time"

	"github.com/slok/taskvisor/internal/model"
)

// ServicePrefix is the prefix of the service names of the default modules.
const ServicePrefix = "org.taskvisor.Module."

// DefaultModules returns a simulated installer fleet.
func DefaultModules(stepDelay time.Duration) []ModuleConfig {
	return []ModuleConfig{
		{
			Service:           ServicePrefix + "Localization",
			KickstartCommands: []string{"lang", "keyboard"},
			ConfigureTasks:    []TaskSpec{{Name: "Apply keyboard layout", Steps: 1, StepDelay: stepDelay}},
			InstallTasks:      []TaskSpec{{Name: "Configure language", Steps: 2, StepDelay: stepDelay}},
		},
		{
			Service:           ServicePrefix + "Timezone",
			KickstartCommands: []string{"timezone", "timesource"},
			InstallTasks:      []TaskSpec{{Name: "Configure timezone", Steps: 1, StepDelay: stepDelay}},
		},
		{
			Service:           ServicePrefix + "Network",
			KickstartCommands: []string{"network", "firewall"},
			ConfigureTasks:    []TaskSpec{{Name: "Apply network configuration", Steps: 2, StepDelay: stepDelay}},
			InstallTasks:      []TaskSpec{{Name: "Write network configuration", Steps: 2, StepDelay: stepDelay}},
			Requirements: []model.Requirement{
				{Type: "package", Name: "NetworkManager", Reason: "Required for network configuration."},
			},
		},
		{
			Service:           ServicePrefix + "Storage",
			KickstartCommands: []string{"autopart", "clearpart", "part", "bootloader"},
			InstallTasks: []TaskSpec{
				{Name: "Create storage layout", Steps: 3, StepDelay: stepDelay},
				{Name: "Mount filesystems", Steps: 1, StepDelay: stepDelay},
			},
			Requirements: []model.Requirement{
				{Type: "package", Name: "lvm2", Reason: "Required to manage LVM devices."},
			},
		},
		{
			Service:           ServicePrefix + "Payloads",
			KickstartCommands: []string{"url", "repo", "%packages"},
			InstallTasks:      []TaskSpec{{Name: "Install the payload", Steps: 5, StepDelay: stepDelay}},
			Sources: []SourceSpec{
				{
					Name:     "URL source",
					SetUp:    []TaskSpec{{Name: "Download repository metadata", Steps: 1, StepDelay: stepDelay}},
					TearDown: []TaskSpec{{Name: "Remove repository cache", Steps: 1, StepDelay: stepDelay}},
				},
			},
		},
		{
			Service:           ServicePrefix + "Users",
			KickstartCommands: []string{"rootpw", "user"},
			InstallTasks:      []TaskSpec{{Name: "Create users", Steps: 1, StepDelay: stepDelay}},
		},
	}
}
