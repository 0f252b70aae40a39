// Package agent contains the task executor of the router. One Execute call
// owns one task: it classifies the user's message, takes exactly one of the
// search, entity routing or booking paths, and guarantees that the caller's
// stream ends with a single final event.
package agent
