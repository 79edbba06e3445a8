// Package session implements the editor-facing agent: a registry of logical
// sessions, each driving one conversation of the external agent runtime.
//
// # Architecture Overview
//
// The Registry implements the control-protocol agent interface. Every
// protocol request is routed to a Session by id:
//
//   - NewSession / LoadSession start a runtime conversation, a settings
//     store scoped to the working directory and a terminal manager
//   - Prompt pushes one user turn and drains runtime output until a result
//   - Cancel interrupts the turn in flight
//   - SetSessionMode / SetSessionModel switch the runtime's disposition
//   - ListSessions / DeleteSession work on persisted transcripts
//
// # Turn Flow
//
//  1. The prompt is converted to runtime content blocks; custom slash
//     commands are expanded first
//  2. The turn is sent to the runtime
//  3. Output is drained message by message; each message goes through the
//     session's Translator and the resulting updates are sent to the client
//  4. A result message ends the turn and maps to a stop reason
//
// Tool approval runs concurrently with the drain. The runtime asks through
// the permission callback, which consults the mode, the settings rules and
// the session's interactive grants before prompting the client. A
// PreToolUse hook lets settings rules short-circuit the runtime's own
// prompt; a PostToolUse hook forwards the structured tool response.
//
// # Cancellation
//
// Cancel sets a flag and closes the turn's cancel channel. The drain returns
// the cancelled stop reason without waiting for the runtime, so the output
// of the interrupted turn is skipped at the start of the next one.
package session
