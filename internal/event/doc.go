// Package event is an in-process pub/sub bus for bridge lifecycle events:
// sessions created and deleted, settings reloaded, terminals finishing and
// permission prompts.
//
// Subscribers registered with Subscribe or SubscribeAll are called directly
// with the typed Event. Every published event is also forwarded as a JSON
// watermill message on a topic named after its type, so consumers that want a
// decoupled feed, such as the serve command's permission audit, attach
// with Stream.
//
//	unsub := event.Subscribe(event.TerminalExited, func(e event.Event) {
//		data := e.Data.(event.TerminalExitedData)
//		log.Info().Str("terminal", data.TerminalID).Msg("terminal finished")
//	})
//	defer unsub()
package event
