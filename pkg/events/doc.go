/*
Package events provides an in-memory event broker for Quarry's engine
notifications.

Downward calls through the engine's layers are synchronous; upward
notifications are not. Background work — recovery, asynchronous flushes,
full-text merges, backups — reports state changes by publishing events,
and interested components subscribe rather than being called into.

Publishing is non-blocking: the broker buffers up to 100 events and each
subscriber channel buffers 50; a subscriber that falls behind misses
events rather than stalling the publisher.

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			log.Logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventBackupCompleted,
		Message: "backup completed",
	})
*/
package events
