// Package agent talks to the model providers. It exposes live conversation
// sessions that stream their replies as discrete events, plus the error
// classification used to decide how a failed run is surfaced to the user.
package agent
