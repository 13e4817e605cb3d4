package simulator

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/wjholden/gotftpd/internal/console"
)

// VerboseSetter is satisfied by internal/observability.ZerologSink;
// declared here so the simulator does not need to import the concrete
// logging package just to wire "verbose"/"quiet".
type VerboseSetter interface {
	SetVerbose(bool)
}

// RegisterCommands binds the spec.md §6 interactive command surface to a
// Dispatcher, driving engine and (optionally) a verbosity-settable sink.
// A nil logVerbosity is accepted; "verbose"/"quiet" then report that no
// sink is wired rather than panicking.
func RegisterCommands(d *console.Dispatcher, engine *Engine, logVerbosity VerboseSetter) {
	d.Register("shutdown", func(w io.Writer, args []string) error {
		return console.ErrShutdown
	})

	d.Register("verbose", func(w io.Writer, args []string) error {
		if logVerbosity == nil {
			return fmt.Errorf("no logging sink configured")
		}
		logVerbosity.SetVerbose(true)
		return nil
	})

	d.Register("quiet", func(w io.Writer, args []string) error {
		if logVerbosity == nil {
			return fmt.Errorf("no logging sink configured")
		}
		logVerbosity.SetVerbose(false)
		return nil
	})

	d.Register("clientport", func(w io.Writer, args []string) error {
		if len(args) == 0 {
			fmt.Fprintln(w, engine.ClientFacingAddr().Port)
			return nil
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("clientport: %q is not a valid port", args[0])
		}
		return engine.SetClientPort(port)
	})

	d.Register("serverport", func(w io.Writer, args []string) error {
		current := engine.ServerAddr()
		if len(args) == 0 {
			fmt.Fprintln(w, current.Port)
			return nil
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("serverport: %q is not a valid port", args[0])
		}
		engine.SetServerAddr(&net.UDPAddr{IP: current.IP, Port: port})
		return nil
	})

	d.Register("serverip", func(w io.Writer, args []string) error {
		current := engine.ServerAddr()
		if len(args) == 0 {
			fmt.Fprintln(w, current.IP)
			return nil
		}
		ip := net.ParseIP(args[0])
		if ip == nil {
			return fmt.Errorf("serverip: %q is not a valid address", args[0])
		}
		engine.SetServerAddr(&net.UDPAddr{IP: ip, Port: current.Port})
		return nil
	})

	d.Register("drop", ruleCommand(engine, ActionDrop))
	d.Register("delay", ruleCommand(engine, ActionDelay))
	d.Register("duplicate", ruleCommand(engine, ActionDuplicate))

	d.Register("errors", func(w io.Writer, args []string) error {
		rules := engine.Rules()
		if len(rules) == 0 {
			fmt.Fprintln(w, "(no active rules)")
			return nil
		}
		for _, r := range rules {
			fmt.Fprintln(w, r.String())
		}
		return nil
	})

	d.Register("help", func(w io.Writer, args []string) error {
		for _, name := range d.Names() {
			fmt.Fprintln(w, name)
		}
		return nil
	})
}

// ruleCommand builds the handler shared by drop/delay/duplicate: drop
// takes <kind> <blockNum> <repeat>; delay/duplicate additionally take a
// delay in milliseconds as the third argument: <kind> <blockNum> <ms>
// <repeat>.
func ruleCommand(engine *Engine, action ErrorAction) console.Handler {
	return func(w io.Writer, args []string) error {
		wantArgs := 3
		if action != ActionDrop {
			wantArgs = 4
		}
		if len(args) != wantArgs {
			return fmt.Errorf("%s: expected %d arguments, got %d", action, wantArgs, len(args))
		}

		kind, err := ParseKind(args[0])
		if err != nil {
			return err
		}
		block, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%s: %q is not a valid block number", action, args[1])
		}

		var delayMillis, repeat int
		if action == ActionDrop {
			repeat, err = strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%s: %q is not a valid repeat count", action, args[2])
			}
		} else {
			delayMillis, err = strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%s: %q is not a valid delay in milliseconds", action, args[2])
			}
			repeat, err = strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("%s: %q is not a valid repeat count", action, args[3])
			}
		}

		engine.AddRule(ErrorInstruction{
			Kind:        kind,
			Action:      action,
			BlockNumber: block,
			DelayMillis: delayMillis,
			RepeatCount: repeat,
		})
		return nil
	}
}
