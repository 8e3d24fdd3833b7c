package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoRecorder      = errors.New("no audio recorder available")
	ErrEmptyRecording  = errors.New("recording produced no audio")
	ErrAlreadyReleased = errors.New("recording already released")
)

const stopWaitDelay = 2 * time.Second

// AudioCapture starts microphone recordings.
type AudioCapture interface {
	Start(ctx context.Context) (Recording, error)
}

// Recording is one in-progress capture. Close releases the device and is
// safe to call after Stop.
type Recording interface {
	Stop() ([]byte, error)
	Close() error
	MIMEType() string
}

// CommandSpec is an external recorder that writes encoded audio to stdout.
type CommandSpec struct {
	Name     string
	Args     []string
	MIMEType string
}

var linuxRecorderCommands = []CommandSpec{
	{Name: "ffmpeg", Args: []string{"-hide_banner", "-loglevel", "error", "-f", "pulse", "-i", "default", "-c:a", "libopus", "-f", "webm", "-"}, MIMEType: "audio/webm"},
	{Name: "arecord", Args: []string{"-q", "-f", "cd", "-t", "wav", "-"}, MIMEType: "audio/wav"},
}

var darwinRecorderCommands = []CommandSpec{
	{Name: "ffmpeg", Args: []string{"-hide_banner", "-loglevel", "error", "-f", "avfoundation", "-i", ":0", "-c:a", "libopus", "-f", "ogg", "-"}, MIMEType: "audio/ogg"},
}

// RecorderCommandsForOS lists recorder candidates in preference order.
func RecorderCommandsForOS(goos string) ([]CommandSpec, error) {
	switch strings.ToLower(strings.TrimSpace(goos)) {
	case "linux":
		return linuxRecorderCommands, nil
	case "darwin":
		return darwinRecorderCommands, nil
	default:
		return nil, fmt.Errorf("audio capture is not supported on %s", goos)
	}
}

// CommandCapture records through the first recorder command that starts.
type CommandCapture struct {
	logger   *slog.Logger
	commands []CommandSpec
}

func NewCommandCapture(logger *slog.Logger) *CommandCapture {
	commands, err := RecorderCommandsForOS(runtime.GOOS)
	if err != nil && logger != nil {
		logger.Debug("no default recorder commands", "error", err)
	}

	return NewCommandCaptureWith(logger, commands)
}

func NewCommandCaptureWith(logger *slog.Logger, commands []CommandSpec) *CommandCapture {
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandCapture{logger: logger, commands: commands}
}

func (c *CommandCapture) Start(ctx context.Context) (Recording, error) {
	if len(c.commands) == 0 {
		return nil, ErrNoRecorder
	}

	var errs []error
	for i, spec := range c.commands {
		rec, err := startRecording(ctx, spec)
		if err == nil {
			c.logger.Info("recording started", "command", spec.Name, "attempt", i+1)

			return rec, nil
		}
		c.logger.Debug("recorder command failed", "command", spec.Name, "attempt", i+1, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
	}

	return nil, fmt.Errorf("%w: %w", ErrNoRecorder, errors.Join(errs...))
}

type commandRecording struct {
	cmd      *exec.Cmd
	mimeType string
	stdout   bytes.Buffer
	stderr   bytes.Buffer

	once    sync.Once
	waitErr error
	done    chan struct{}

	mu       sync.Mutex
	released bool
}

func startRecording(ctx context.Context, spec CommandSpec) (*commandRecording, error) {
	if _, err := exec.LookPath(spec.Name); err != nil {
		return nil, err
	}

	rec := &commandRecording{mimeType: spec.MIMEType, done: make(chan struct{})}
	// #nosec G204 -- recorder commands come from a fixed table.
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Stdout = &rec.stdout
	cmd.Stderr = &rec.stderr
	cmd.WaitDelay = stopWaitDelay
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	rec.cmd = cmd

	go func() {
		rec.waitErr = cmd.Wait()
		close(rec.done)
	}()

	return rec, nil
}

func (r *commandRecording) MIMEType() string {
	return r.mimeType
}

// Stop asks the recorder to finish and returns everything it wrote.
func (r *commandRecording) Stop() ([]byte, error) {
	if !r.release() {
		return nil, ErrAlreadyReleased
	}
	r.interrupt()
	<-r.done

	data := r.stdout.Bytes()
	if len(data) == 0 {
		if r.waitErr != nil && !isSignalExit(r.waitErr) {
			return nil, fmt.Errorf("recorder exited: %w: %s", r.waitErr, strings.TrimSpace(r.stderr.String()))
		}

		return nil, ErrEmptyRecording
	}

	return bytes.Clone(data), nil
}

// Close discards the recording.
func (r *commandRecording) Close() error {
	if !r.release() {
		return nil
	}
	r.once.Do(func() {
		_ = r.cmd.Process.Kill()
	})
	<-r.done

	return nil
}

func (r *commandRecording) release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.released = true

	return true
}

// interrupt lets the recorder flush its container before exiting.
func (r *commandRecording) interrupt() {
	r.once.Do(func() {
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = r.cmd.Process.Kill()

			return
		}
		go func() {
			select {
			case <-r.done:
			case <-time.After(stopWaitDelay):
				_ = r.cmd.Process.Kill()
			}
		}()
	})
}

func isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}

	return !exitErr.Exited()
}
