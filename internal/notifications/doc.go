// Package notifications publishes execution lifecycle events.
//
// When Kafka brokers are configured the events are written as JSON messages
// keyed by dataset so consumers see a dataset's history in order. Otherwise
// they are logged. Scheduler code depends only on the Service interface.
package notifications
