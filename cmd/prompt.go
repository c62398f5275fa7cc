package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/mattn/go-isatty"
)

// errInterrupted stands in for SIGINT while the terminal is in raw mode and
// Ctrl-C arrives as a key press instead of a signal
var errInterrupted = errors.New("interrupted")

// terminalOperator asks the person running the tool for confirmation
type terminalOperator struct {
	in  *bufio.Reader
	out io.Writer

	// keyboard switches Pause to single key presses. Only possible when
	// stdin is a terminal
	keyboard bool
}

func newTerminalOperator(in *os.File, out io.Writer) *terminalOperator {
	o := newLineOperator(in, out)
	o.keyboard = isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())
	return o
}

func newLineOperator(in io.Reader, out io.Writer) *terminalOperator {
	return &terminalOperator{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm only accepts an explicit y, anything else is a no
func (o *terminalOperator) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(o.out, "%v %v ", dangerStyle.Render(question), faintStyle.Render("(y/n)"))

	line, err := o.readLine()
	if err != nil {
		return false, fmt.Errorf("error reading answer: %w", err)
	}

	return strings.EqualFold(line, "y"), nil
}

func (o *terminalOperator) Pause(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, warningStyle.Render(message))

	if !o.keyboard {
		_, err := o.readLine()
		if err != nil {
			return fmt.Errorf("error waiting for enter: %w", err)
		}
		return nil
	}

	interrupted := false
	err := keyboard.Listen(func(key keys.Key) (stop bool, err error) {
		stop, interrupted = pauseKey(key)
		return stop, nil
	})
	if err != nil {
		return fmt.Errorf("error reading keyboard input: %w", err)
	}
	if interrupted {
		return errInterrupted
	}

	return nil
}

// pauseKey decides what a key press does at a pause. Only Enter continues and
// only Ctrl-C interrupts, every other key is ignored
func pauseKey(key keys.Key) (stop, interrupted bool) {
	switch key.Code {
	case keys.Enter:
		return true, false
	case keys.CtrlC:
		return true, true
	default:
		return false, false
	}
}

// readLine returns the next line without its line ending. A final line without
// a newline still counts, running out of input before that is an error
func (o *terminalOperator) readLine() (string, error) {
	line, err := o.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
