package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrNotStarted is returned by operations that need a running process.
var ErrNotStarted = errors.New("command not started")

// maxStderrLines is how many trailing stderr lines a command keeps.
const maxStderrLines = 100

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	// Process control
	cmd      *exec.Cmd
	started  time.Time
	done     chan struct{}
	exitCode int
	waitErr  error
	mu       sync.RWMutex

	// Stderr capture
	stderrLines []string
	stderrMu    sync.RWMutex
	onStderr    func(line string)
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	input         string
	filterComplex string
	filterArgs    []string
	outputArgs    []string
	output        string
	logLevel      string
	overwrite     bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{binary: ffmpegPath}
}

// LogLevel sets the FFmpeg log level. Unset leaves ffmpeg's default.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// FilterComplex sets the -filter_complex graph.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// VideoFilter adds a video filter. Filters are joined into one -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioSampleRate sets the audio sample rate in Hz.
func (b *CommandBuilder) AudioSampleRate(rate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", rate)
	return b
}

// Map adds a -map stream selector.
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", spec)
	return b
}

// Progress makes ffmpeg append key=value progress blocks to path.
func (b *CommandBuilder) Progress(path string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-progress", path)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the final output destination. Commands whose outputs are
// spelled out in OutputArgs leave it empty.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, "-i", b.input)

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	}
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)

	if b.output != "" {
		args = append(args, b.output)
	}

	return &Command{
		Binary:      b.binary,
		Args:        args,
		Input:       b.input,
		Output:      b.output,
		done:        make(chan struct{}),
		stderrLines: make([]string, 0, maxStderrLines),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// OnStderr registers a callback for every stderr line. Set it before Start.
func (c *Command) OnStderr(fn func(line string)) {
	c.onStderr = fn
}

// Start launches the process without waiting. The process is reaped in the
// background; Done is closed once it has exited.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return fmt.Errorf("command already started")
	}
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.cmd = nil
		c.mu.Unlock()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		c.cmd = nil
		c.mu.Unlock()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	c.started = time.Now()
	cmd := c.cmd
	c.mu.Unlock()

	go func() {
		// All reads from the pipe must finish before Wait.
		c.captureStderr(stderr)
		err := cmd.Wait()

		c.mu.Lock()
		c.waitErr = err
		c.exitCode = cmd.ProcessState.ExitCode()
		c.mu.Unlock()
		close(c.done)
	}()

	return nil
}

// Run starts the command and waits for it to exit.
func (c *Command) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait()
}

// Wait blocks until the process exits and returns its error, if any.
func (c *Command) Wait() error {
	c.mu.RLock()
	started := c.cmd != nil
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	<-c.done

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waitErr
}

// Done is closed when the process has exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Pid returns the process id, or 0 before Start.
func (c *Command) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Exited reports whether the process has exited and, if so, its exit code.
// A process killed by a signal reports -1.
func (c *Command) Exited() (code int, exited bool) {
	select {
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.exitCode, true
	default:
		return 0, false
	}
}

// Kill terminates the FFmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if _, exited := c.Exited(); exited {
		return nil
	}
	return cmd.Process.Kill()
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// captureStderr keeps the most recent stderr lines for error reporting.
func (c *Command) captureStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if c.onStderr != nil {
			c.onStderr(line)
		}
	}
	// Drain whatever is left after an oversized line.
	_, _ = io.Copy(io.Discard, stderr)
}

// GetStderrLines returns the recent stderr lines captured from FFmpeg.
func (c *Command) GetStderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}
