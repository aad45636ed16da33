package testutil

import (
	"context"
	"strings"

	"github.com/schaermu/shipway/internal/remote"
)

// PutCall records a single Put invocation on a ScriptRunner.
type PutCall struct {
	LocalPath    string
	RemotePath   string
	PreserveMode bool
}

// ScriptRunner is a recording fake remote.Runner for unit tests. Commands
// are recorded in invocation order; outputs and errors can be scripted per
// command string or via a RunFunc override for stateful sequences.
type ScriptRunner struct {
	// Scripting
	Outputs      map[string]string // command string -> output
	Errs         map[string]error  // command string -> error
	RunFunc      func(argv []string) (string, error)
	ExistsResult bool
	ExistsErr    error
	PutErr       error

	// Recording
	Commands     [][]string
	SudoCommands [][]string
	ExistsCalls  []string
	PutCalls     []PutCall
}

var _ remote.Runner = (*ScriptRunner)(nil)

// Run records the command and returns whatever was scripted for it.
func (r *ScriptRunner) Run(_ context.Context, argv ...string) (string, error) {
	r.Commands = append(r.Commands, argv)
	return r.dispatch(argv)
}

// Sudo records the command separately from Run and returns whatever was
// scripted for it.
func (r *ScriptRunner) Sudo(_ context.Context, argv ...string) (string, error) {
	r.SudoCommands = append(r.SudoCommands, argv)
	return r.dispatch(argv)
}

// Exists records the path and returns the scripted result.
func (r *ScriptRunner) Exists(_ context.Context, path string) (bool, error) {
	r.ExistsCalls = append(r.ExistsCalls, path)
	return r.ExistsResult, r.ExistsErr
}

// Put records the transfer and returns the scripted error.
func (r *ScriptRunner) Put(_ context.Context, localPath, remotePath string, opts remote.PutOptions) error {
	r.PutCalls = append(r.PutCalls, PutCall{
		LocalPath:    localPath,
		RemotePath:   remotePath,
		PreserveMode: opts.PreserveMode,
	})
	return r.PutErr
}

// CommandStrings returns every Run command joined with spaces, in order.
func (r *ScriptRunner) CommandStrings() []string {
	out := make([]string, 0, len(r.Commands))
	for _, argv := range r.Commands {
		out = append(out, strings.Join(argv, " "))
	}
	return out
}

// HasCommand reports whether Run was invoked with exactly the given command.
func (r *ScriptRunner) HasCommand(cmd string) bool {
	for _, c := range r.CommandStrings() {
		if c == cmd {
			return true
		}
	}
	return false
}

func (r *ScriptRunner) dispatch(argv []string) (string, error) {
	if r.RunFunc != nil {
		return r.RunFunc(argv)
	}

	key := strings.Join(argv, " ")
	if err, ok := r.Errs[key]; ok {
		return "", err
	}
	return r.Outputs[key], nil
}
