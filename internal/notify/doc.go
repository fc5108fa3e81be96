// Package notify publishes offline-push events for recipients without a
// live session.
//
// Events go to a durable AMQP topic exchange with routing keys of the form
// push.{tenant}.{kind}; the device fan-out is an external consumer. When
// push is disabled the Noop publisher discards everything, so callers never
// branch on configuration.
package notify
