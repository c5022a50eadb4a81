package export

import (
	"errors"
	"testing"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/stretchr/testify/require"
)

type recordingCommandFactory struct {
	calls [][]string
	err   error
}

func (f *recordingCommandFactory) Create(name string, args []string, _ *command.Opts) command.Command {
	f.calls = append(f.calls, append([]string{name}, args...))
	return fakeCommand{err: f.err}
}

type fakeCommand struct {
	err error
}

func (c fakeCommand) PrintableCommandArgs() string               { return "" }
func (c fakeCommand) Run() error                                 { return c.err }
func (c fakeCommand) RunAndReturnExitCode() (int, error)         { return 0, c.err }
func (c fakeCommand) RunAndReturnTrimmedOutput() (string, error) { return "", c.err }
func (c fakeCommand) RunAndReturnTrimmedCombinedOutput() (string, error) {
	if c.err != nil {
		return "envman: invalid key", c.err
	}
	return "", nil
}
func (c fakeCommand) Start() error { return c.err }
func (c fakeCommand) Wait() error  { return c.err }

func TestExportOutput(t *testing.T) {
	factory := &recordingCommandFactory{}
	e := NewExporter(factory)

	require.NoError(t, e.ExportOutput("my_key", "my value"))
	require.NoError(t, e.ExportOutputNoExpand("my_other_key", "$HOME"))

	require.Equal(t, [][]string{
		{"envman", "add", "--key", "my_key", "--value", "my value"},
		{"envman", "add", "--key", "my_other_key", "--value", "$HOME", "--no-expand"},
	}, factory.calls)
}

func TestExportOutput_Error(t *testing.T) {
	factory := &recordingCommandFactory{err: errors.New("exit status 1")}
	e := NewExporter(factory)

	err := e.ExportOutput("my_key", "my value")
	require.EqualError(t, err, "exporting output with envman failed: exit status 1, output: envman: invalid key")
}
