// Package progress defines the task progress events that producer loops emit,
// the Reporter interface they emit through, and the Presenter contract that
// renders those events. The coordination layer that moves events from
// reporters to presenters lives in the session, channel and pickup packages.
package progress
