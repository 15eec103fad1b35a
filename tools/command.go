package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/ponder/errors"
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a command without a shell. No commands are currently allowed."
	}

	var allowedList strings.Builder
	allowedList.WriteString("Allowed command patterns (regular expressions matching the whole command):\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&allowedList, "- %s\n", cmd)
	}
	return "Executes a command without a shell and returns its combined output.\n" + allowedList.String()
}

func (t *ExecuteCommandTool) InputSchema() map[string]any {
	return objectSchema([]string{"command"}, map[string]map[string]any{
		"command": stringProp("Command line; split on whitespace, no shell expansion."),
	})
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	command, err := stringArg(input, "command")
	if err != nil {
		return "", err
	}
	if !isCommandAllowed(command, t.allowedCommands) {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}
	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}
