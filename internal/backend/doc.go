// Package backend defines the execution backend contract the consumer
// dispatches to, and a Local implementation that runs steps in-process
// through the plugin registry.
//
// A dispatch returns a Handle whose event channel reports step progress and
// ends with exactly one terminal event (Completed, Cancelled, or StepFailed)
// before it is closed. A channel that closes without a terminal event means
// the backend lost the run.
package backend
