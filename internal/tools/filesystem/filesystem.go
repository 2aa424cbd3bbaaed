// Package filesystem provides the built-in file tools: read_file,
// write_file, edit_file, and list_files. Paths resolve against the
// workspace root, and every read or write refreshes the tracker stamp
// so edits against files changed behind the model's back get caught.
package filesystem

import (
	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

// Register adds the file tools to the registry.
func Register(reg *tools.Registry, tr *workspace.Tracker) error {
	constructors := []func(*workspace.Tracker) (engine.ToolDefinition, tools.Handler){
		newReadTool,
		newWriteTool,
		newEditTool,
		newListTool,
	}
	for _, construct := range constructors {
		def, h := construct(tr)
		if err := reg.Register(def, h); err != nil {
			return err
		}
	}
	return nil
}
