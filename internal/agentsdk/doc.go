// Package agentsdk drives the external agent runtime.
//
// The runtime is the claude CLI running in stream-json mode. Each line on its
// stdout is either a conversation Message or a control envelope. Control
// requests from the runtime (tool permission prompts, hook callbacks) are
// answered through the callbacks in Options; control requests from the bridge
// (initialize, interrupt, set_model, set_permission_mode) are correlated by
// request id.
//
// Query is the interface the session registry consumes, so tests can swap
// the process for an in-memory fake.
package agentsdk
