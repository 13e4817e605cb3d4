// Package console implements the Command Dispatcher of spec.md §4.8/§9: a
// mapping from command name to a handler callback, used to drive the
// error simulator's interactive shell. The dispatcher itself does not
// know what any command does; it only routes.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Handler processes one command's argument vector (the tokens after the
// command name) and writes any output to w.
type Handler func(w io.Writer, args []string) error

// Dispatcher routes whitespace-tokenized lines to registered handlers.
type Dispatcher struct {
	handlers map[string]Handler
	order    []string
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds name to handler. Registering the same name twice
// replaces the previous handler without changing its position in Names.
func (d *Dispatcher) Register(name string, handler Handler) {
	lower := strings.ToLower(name)
	if _, exists := d.handlers[lower]; !exists {
		d.order = append(d.order, lower)
	}
	d.handlers[lower] = handler
}

// Names returns the registered command names in registration order.
func (d *Dispatcher) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Dispatch tokenizes line on whitespace and routes it. A blank line is a
// no-op. An unknown command name is reported as an error rather than
// panicking, per spec.md §2's "unknown tokens produce a user-visible
// error."
func (d *Dispatcher) Dispatch(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	handler, ok := d.handlers[name]
	if !ok {
		return fmt.Errorf("console: unknown command %q", fields[0])
	}
	return handler(w, fields[1:])
}

// ErrShutdown is returned by a handler (conventionally the "shutdown"
// command) to ask Serve to stop reading further lines.
var ErrShutdown = fmt.Errorf("console: shutdown requested")

// Serve reads whitespace-tokenized lines from r until EOF or a handler
// returns ErrShutdown. Every other handler error is reported to w and
// reading continues.
func (d *Dispatcher) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := d.Dispatch(w, scanner.Text()); err != nil {
			if err == ErrShutdown {
				return nil
			}
			fmt.Fprintln(w, err)
		}
	}
	return scanner.Err()
}
