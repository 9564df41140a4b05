package engine

// toRetryingNotification is published by the Dispatcher whenever a webhook
// transitions Enabled -> Retrying, and consumed by the RetrySubsystem, which
// forks exactly one supervised retry loop per notification.
type toRetryingNotification struct {
	WebhookID WebhookID
	Queue     *RetryingState
}
