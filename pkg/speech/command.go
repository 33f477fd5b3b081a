package speech

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// espeak's default speed in words per minute and its neutral pitch.
const (
	baseWordsPerMinute = 175
	basePitch          = 50
)

var errEngineShutdown = errors.New("speech engine was shut down")

// CommandEngine speaks through an espeak-compatible command line program.
type CommandEngine struct {
	path string

	mu       sync.Mutex
	running  *exec.Cmd
	shutdown bool
}

// CommandFactory returns an EngineFactory running the program at path.
// The program is resolved from PATH when the factory is invoked.
func CommandFactory(path string) EngineFactory {
	return func(_ context.Context) (Engine, error) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return nil, errors.Wrapf(err, "speech program %q not found", path)
		}
		return &CommandEngine{path: resolved}, nil
	}
}

// Args returns the program arguments for the utterance.
func (e *CommandEngine) Args(u Utterance) []string {
	wpm := int(baseWordsPerMinute * u.Rate)
	pitch := int(basePitch * u.Pitch)
	args := []string{
		"-s", strconv.Itoa(wpm),
		"-p", strconv.Itoa(pitch),
	}
	if u.Language != "" {
		args = append(args, "-v", strings.ToLower(u.Language))
	}
	return append(args, u.Text)
}

func (e *CommandEngine) Speak(ctx context.Context, u Utterance) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, e.Args(u)...)
	cmd.Stderr = &stderr

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return errEngineShutdown
	}
	err := cmd.Start()
	if err != nil {
		e.mu.Unlock()
		return errors.Wrap(err, "failed to start speech program")
	}
	e.running = cmd
	e.mu.Unlock()

	err = cmd.Wait()

	e.mu.Lock()
	e.running = nil
	e.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "speech program failed: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (e *CommandEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	if e.running == nil {
		return nil
	}
	err := e.running.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
