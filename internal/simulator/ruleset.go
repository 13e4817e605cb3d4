package simulator

import "sync"

// ruleset is the mutex-guarded, ordered list of ErrorInstructions the
// engine matches forwarded packets against (spec.md §4.7/§9: "Errors" is
// a single synchronized collaborator, not spread across both relays).
type ruleset struct {
	mu    sync.Mutex
	rules []ErrorInstruction
}

// add appends instr, unless it is already inert (repeat count exactly 0
// adds nothing — an instruction at repeatCount == 0 is defined to not
// exist per spec.md §4.7).
func (r *ruleset) add(instr ErrorInstruction) {
	if instr.RepeatCount == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, instr)
}

// snapshot returns a copy of the current rules, for the "errors" console
// command.
func (r *ruleset) snapshot() []ErrorInstruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorInstruction, len(r.rules))
	copy(out, r.rules)
	return out
}

// apply finds the first instruction matching (kind, block), applies its
// repeat-count bookkeeping, and reports the action to take. matched is
// false when no rule applies, in which case the packet is forwarded
// unperturbed.
func (r *ruleset) apply(kind PacketKind, block int) (action ErrorAction, delayMillis int, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for idx := range r.rules {
		instr := &r.rules[idx]
		if !instr.matches(kind, block) {
			continue
		}

		action, delayMillis, matched = instr.Action, instr.DelayMillis, true
		instr.RepeatSeen++
		if instr.RepeatCount > 0 {
			instr.RepeatCount--
		}
		if instr.RepeatCount == 0 {
			r.rules = append(r.rules[:idx], r.rules[idx+1:]...)
		}
		return
	}
	return 0, 0, false
}
