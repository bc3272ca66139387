// Package events provides the in-process event bus the hub publishes
// state transitions on, synchronously and without persistence.
package events
