/*
Package events is the in-process pub/sub broker that Command & Control
hands a copy of every steering broadcast to, for in-process subscribers.
The fan-out to Application Companions goes through the transport.Publisher
C&C holds, in both deployment modes; no companion subscribes to the broker.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.SteeringTopic)
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Envelope{
		Topic:   events.SteeringTopic,
		Payload: types.ControlCommand{Command: types.CommandStart},
	})

Publish never blocks on a slow subscriber; a subscriber whose buffer is
full misses that broadcast rather than stalling the others.
*/
package events
