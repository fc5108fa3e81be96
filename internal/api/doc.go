// Package api is the REST surface: message send and catch-up list,
// friendship requests and acceptance, and health. Message sends persist
// before broadcasting so a pushed message is always retrievable; list is
// the poll source for delivery reconciliation. All /api routes require an
// authenticated client credential and apply the same conversation
// authorization as the websocket gateway.
package api
