/*
Package event provides a type-safe pub/sub event system for the session
engine.

The engine publishes events as it mutates the transcript; renderers and
other observers subscribe to redraw without polling engine state. Every
publish travels through a watermill gochannel with a single consumer, so
subscribers see events in publish order across goroutines, while the
typed Data payload stays in-process.

# Event Types

Turn lifecycle:
  - turn.started: a turn's stream was opened
  - turn.finished: a turn completed normally (done frame)
  - turn.aborted: a turn was cancelled by the user

Transcript:
  - record.appended: a new record joined the transcript
  - record.updated: an existing record changed (streaming delta, tool close)
  - transcript.cleared: the transcript was reset

# Basic Usage

Publishing:

	bus.PublishSync(event.Event{
		Type: event.RecordUpdated,
		Data: event.RecordUpdatedData{SessionID: sid, Record: rec, Delta: delta},
	})

Subscribing:

	unsubscribe := bus.Subscribe(event.RecordAppended, func(e event.Event) {
		data := e.Data.(event.RecordAppendedData)
		redraw(data.Record)
	})
	defer unsubscribe()

# Subscriber Safety

PublishSync returns once every subscriber ran; the engine uses it for
transcript events so observers see records in order. Subscribers must
complete quickly, must not publish on the same bus, and must not acquire
locks the publisher might hold.

Create bus instances with NewBus and Close them when done.
*/
package event
