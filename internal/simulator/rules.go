package simulator

import (
	"fmt"
	"strings"

	"github.com/wjholden/gotftpd/internal/packet"
)

// PacketKind is the match key the console's drop/delay/duplicate commands
// and the ruleset operate on (spec.md §6's <kind> ∈ {rrq, wrq, data, ack,
// error}).
type PacketKind int

const (
	KindRRQ PacketKind = iota
	KindWRQ
	KindData
	KindAck
	KindError
)

func (k PacketKind) String() string {
	switch k {
	case KindRRQ:
		return "rrq"
	case KindWRQ:
		return "wrq"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseKind parses the console's lowercase kind token.
func ParseKind(s string) (PacketKind, error) {
	switch strings.ToLower(s) {
	case "rrq":
		return KindRRQ, nil
	case "wrq":
		return KindWRQ, nil
	case "data":
		return KindData, nil
	case "ack":
		return KindAck, nil
	case "error":
		return KindError, nil
	default:
		return 0, fmt.Errorf("simulator: unknown packet kind %q", s)
	}
}

// kindOf classifies a parsed packet for rule matching. Both RRQ and WRQ
// share the Request type; the spec's own source is flagged (§9) for
// checking WRQ twice where it meant RRQ-or-WRQ, so this switch is
// deliberately exhaustive over the opcode rather than a single
// type-assertion shortcut.
func kindOf(p packet.Packet) PacketKind {
	switch v := p.(type) {
	case *packet.Request:
		if v.IsWriteRequest() {
			return KindWRQ
		}
		return KindRRQ
	case *packet.Data:
		return KindData
	case *packet.Ack:
		return KindAck
	case *packet.Error:
		return KindError
	default:
		return KindError
	}
}

// blockNumberOf extracts the match block number; RRQ/WRQ/ERROR carry none
// and match only rules targeting block 0.
func blockNumberOf(p packet.Packet) int {
	switch v := p.(type) {
	case *packet.Data:
		return int(v.Block)
	case *packet.Ack:
		return int(v.Block)
	default:
		return 0
	}
}

// ErrorAction is what a matched ErrorInstruction does to a packet in
// flight (spec.md §4.7).
type ErrorAction int

const (
	ActionDrop ErrorAction = iota
	ActionDuplicate
	ActionDelay
)

func (a ErrorAction) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionDuplicate:
		return "duplicate"
	case ActionDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// ErrorInstruction is a single perturbation rule (spec.md §3). Two
// instructions are equal iff every field matches, which the struct's
// comparability (all fields are plain value types) gives for free via
// ==.
type ErrorInstruction struct {
	Kind        PacketKind
	Action      ErrorAction
	BlockNumber int
	DelayMillis int
	RepeatCount int // negative means indefinite
	RepeatSeen  int
}

// matches reports whether this instruction applies to a packet of the
// given kind and block number.
func (i ErrorInstruction) matches(kind PacketKind, block int) bool {
	return i.Kind == kind && i.BlockNumber == block
}

func (i ErrorInstruction) String() string {
	repeat := fmt.Sprintf("%d", i.RepeatCount)
	if i.RepeatCount < 0 {
		repeat = "indefinite"
	}
	if i.Action == ActionDrop {
		return fmt.Sprintf("%s %s block=%d repeat=%s seen=%d", i.Action, i.Kind, i.BlockNumber, repeat, i.RepeatSeen)
	}
	return fmt.Sprintf("%s %s block=%d delay=%dms repeat=%s seen=%d", i.Action, i.Kind, i.BlockNumber, i.DelayMillis, repeat, i.RepeatSeen)
}
