// Package consensus provides a randomized binary consensus participant (Ben-Or style).
//
// This package implements:
//   - Value and Message types exchanged between participants
//   - Ledger: per round/phase store of received votes
//   - Broadcaster: best-effort fan-out of a participant's own votes
//   - QuorumGate: bounded, event-driven wait for a minimum vote count
//   - Participant: the two-phase round engine and its lifecycle controls
//
// A participant tolerates up to F silent (omission-faulty) members out of N. Faulty
// participants never vote, never record state and never advance rounds. Votes that
// carry the ambiguous marker are excluded from both the 0-tally and the 1-tally.
package consensus
