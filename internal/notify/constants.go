package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Voice Recorder"

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// Webhook event names.
const (
	EventSessionFinished = "session_finished"
	EventSessionError    = "session_error"
	EventTest            = "test"
)
