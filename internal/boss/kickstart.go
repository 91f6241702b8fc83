package boss

import (
	"fmt"
	"strings"

	"github.com/slok/taskvisor/internal/model"
)

// KickstartCommands are the kickstart commands handled by a module.
type KickstartCommands struct {
	Service  string
	Commands []string
}

// KickstartSection is the part of a kickstart file handled by a module.
type KickstartSection struct {
	Service string
	Data    string
	// Lines are the line numbers in the file of the section lines.
	Lines []int
}

// FileLine maps a line number of the section to the line number of the file,
// unknown lines are returned as 0.
func (s KickstartSection) FileLine(sectionLine int) int {
	if sectionLine < 1 || sectionLine > len(s.Lines) {
		return 0
	}
	return s.Lines[sectionLine-1]
}

// KickstartRouter knows how to split a kickstart file between the modules.
type KickstartRouter interface {
	// Route returns a section for every module in the same order, and the
	// errors of the lines no module handles.
	Route(data string, modules []KickstartCommands) ([]KickstartSection, []model.KickstartMessage)
}

// CommandRouter routes every line by its command. The lines of a `%section`
// block up to its `%end` go to the owner of the section.
type CommandRouter struct{}

var _ KickstartRouter = CommandRouter{}

func (CommandRouter) Route(data string, modules []KickstartCommands) ([]KickstartSection, []model.KickstartMessage) {
	owners := map[string]int{}
	for i, m := range modules {
		for _, c := range m.Commands {
			if _, ok := owners[c]; !ok {
				owners[c] = i
			}
		}
	}

	sectionLines := make([][]string, len(modules))
	fileLines := make([][]int, len(modules))
	var errs []model.KickstartMessage

	add := func(owner, n int, line string) {
		sectionLines[owner] = append(sectionLines[owner], line)
		fileLines[owner] = append(fileLines[owner], n)
	}

	// Current block, block is -1 for unknown sections.
	var (
		inBlock     bool
		block       int
		blockHeader int
		blockName   string
	)
	for i, line := range strings.Split(data, "\n") {
		n := i + 1
		fields := strings.Fields(line)
		if inBlock {
			if block >= 0 {
				add(block, n, line)
			}
			if len(fields) > 0 && fields[0] == "%end" {
				inBlock = false
			}
			continue
		}

		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		cmd := fields[0]
		owner, ok := owners[cmd]
		isBlock := strings.HasPrefix(cmd, "%")
		switch {
		case isBlock && cmd == "%end":
			errs = append(errs, model.KickstartMessage{LineNumber: n, Message: "unexpected %end"})
		case isBlock:
			inBlock, blockHeader, blockName, block = true, n, cmd, -1
			if ok {
				block = owner
				add(owner, n, line)
			} else {
				errs = append(errs, model.KickstartMessage{LineNumber: n, Message: fmt.Sprintf("unknown section %q", cmd)})
			}
		case ok:
			add(owner, n, line)
		default:
			errs = append(errs, model.KickstartMessage{LineNumber: n, Message: fmt.Sprintf("unknown command %q", cmd)})
		}
	}
	if inBlock {
		errs = append(errs, model.KickstartMessage{LineNumber: blockHeader, Message: fmt.Sprintf("section %q is not closed with %%end", blockName)})
	}

	sections := make([]KickstartSection, 0, len(modules))
	for i, m := range modules {
		s := KickstartSection{Service: m.Service, Lines: fileLines[i]}
		if len(sectionLines[i]) > 0 {
			s.Data = strings.Join(sectionLines[i], "\n") + "\n"
		}
		sections = append(sections, s)
	}

	return sections, errs
}
