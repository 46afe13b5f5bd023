package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// interactiveArgs select the engine's non-GUI interactive mode. No batch
// flag: commands arrive on stdin and results stream back continuously.
var interactiveArgs = []string{"--no-gui", "--silent", "--norc", "--interactive", "--no-line-editing"}

// process is the minimal handle the session needs over a live interpreter.
type process interface {
	Stdin() io.Writer
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	Kill() error
}

// launchSpec carries everything needed to spawn the interpreter.
type launchSpec struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

// launcher spawns the interpreter and returns the process handle plus its
// stdout and stderr streams. Injectable so tests drive sessions over
// in-memory pipes instead of a real engine.
type launcher func(spec launchSpec) (process, io.Reader, io.Reader, error)

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) Stdin() io.Writer {
	return p.stdin
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func launchExec(spec launchSpec) (process, io.Reader, io.Reader, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, stdout, stderr, nil
}

func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	for key, value := range overrides {
		env = append(env, key+"="+value)
	}
	return env
}
