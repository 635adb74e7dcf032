/*
Package events provides an in-memory event broker for broadcasting
state-store changes to interested subscribers.

It implements a lightweight, topic-agnostic pub/sub bus: every
published Event reaches every subscriber, over a buffered channel per
subscriber (50) and a buffered intake channel on the broker itself
(100). Publish is non-blocking against a full intake buffer only
during shutdown; a full subscriber buffer silently drops the event
for that subscriber rather than blocking the broadcaster.

# Event Types

	workload.state_changed   an agent reported a new ExecutionState for a workload
	agent.connected           an agent's transport session registered with the server
	agent.disconnected        an agent's transport session was torn down
	desired_state.updated     an UpdateStateRequest was applied to the desired state

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{Type: events.EventAgentConnected, Message: "agent-1"})

pkg/state.Store publishes EventWorkloadStateChanged on every Report
call when constructed with a non-nil broker; pkg/server.Router passes
its broker through to the store and publishes the agent lifecycle and
desired-state events directly.
*/
package events
