// Package shell is the line-oriented front-end to the lease allocator. It
// reads ASK, RENEW, RELEASE and STATUS commands, validates their addresses,
// calls the allocator, and prints one result line per command.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/addrlease/internal/address"
	"pkt.systems/addrlease/internal/allocator"
	"pkt.systems/addrlease/internal/correlation"
	"pkt.systems/addrlease/internal/svcfields"
)

// DefaultPrompt is printed before each command when prompting is enabled.
const DefaultPrompt = "Enter command (ASK, RENEW #.#.#.#, RELEASE #.#.#.#, STATUS #.#.#.#): "

const helpText = "Commands: ASK | RENEW #.#.#.# | RELEASE #.#.#.# | STATUS #.#.#.# | HELP | QUIT"

// Allocator is the subset of *allocator.Allocator the shell drives.
type Allocator interface {
	Allocate(ctx context.Context) (address.Address, error)
	Renew(ctx context.Context, addr address.Address) error
	Release(ctx context.Context, addr address.Address) error
	Status(ctx context.Context, addr address.Address) allocator.Report
}

// Option configures a Shell.
type Option func(*Shell)

// WithPrompt sets the prompt; an empty string disables prompting.
func WithPrompt(prompt string) Option {
	return func(s *Shell) {
		s.prompt = prompt
	}
}

// WithLogger supplies a logger.
func WithLogger(l pslog.Logger) Option {
	return func(s *Shell) {
		s.logger = l
	}
}

// Shell serves one command stream.
type Shell struct {
	alloc  Allocator
	in     io.Reader
	out    io.Writer
	prompt string
	logger pslog.Logger
}

// New returns a shell reading commands from in and writing results to out.
func New(alloc Allocator, in io.Reader, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		alloc:  alloc,
		in:     in,
		out:    out,
		prompt: DefaultPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = svcfields.WithSubsystem(s.logger, "shell")
	return s
}

// Execute runs one request against the allocator.
func (s *Shell) Execute(ctx context.Context, req Request) Response {
	resp := Response{Request: req}
	switch req.Kind {
	case KindAsk:
		resp.Offered, resp.Err = s.alloc.Allocate(ctx)
	case KindRenew:
		resp.Err = s.alloc.Renew(ctx, req.Address)
	case KindRelease:
		resp.Err = s.alloc.Release(ctx, req.Address)
	case KindStatus:
		resp.Report = s.alloc.Status(ctx, req.Address)
	case KindHelp, KindQuit:
	default:
		resp.Err = ErrUnknownCommand
	}
	return resp
}

// Handle parses and executes one line. The boolean is true when the line
// asked the shell to stop.
func (s *Shell) Handle(ctx context.Context, line string) (Response, bool) {
	ctx = correlation.New(ctx)
	logger := correlation.Logger(ctx, s.logger)

	req, err := Parse(line)
	if err != nil {
		logger.Debug("shell.request.rejected", "line", strings.TrimSpace(line), "kind", string(req.Kind), "error", err)
		return Response{Request: req, Err: err}, false
	}
	resp := s.Execute(ctx, req)
	if resp.Err != nil {
		logger.Debug("shell.request.failed", "kind", string(req.Kind), "error", resp.Err)
	} else {
		logger.Trace("shell.request.done", "kind", string(req.Kind))
	}
	return resp, req.Kind == KindQuit
}

// Run reads commands until EOF, QUIT, or ctx is cancelled. Blank lines are
// skipped. A cancelled context yields ctx.Err(); EOF and QUIT yield nil.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.logger.Debug("shell.start")
	for {
		if err := s.writePrompt(); err != nil {
			return err
		}
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			s.logger.Debug("shell.stop", "reason", "context")
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("shell: read input: %w", err)
				}
			default:
			}
			s.logger.Debug("shell.stop", "reason", "eof")
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		resp, quit := s.Handle(ctx, line)
		if quit {
			s.logger.Debug("shell.stop", "reason", "quit")
			return nil
		}
		if _, err := fmt.Fprintln(s.out, resp.String()); err != nil {
			return fmt.Errorf("shell: write output: %w", err)
		}
	}
}

func (s *Shell) writePrompt() error {
	if s.prompt == "" {
		return nil
	}
	if _, err := io.WriteString(s.out, s.prompt); err != nil {
		return fmt.Errorf("shell: write prompt: %w", err)
	}
	return nil
}
