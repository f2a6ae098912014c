// Package supervisor restarts a long-running component when it fails.
//
// The relay's receive loop is fail-stop: a transport error (or a decode
// error under the "stop" policy) closes the sockets and ends the run. A
// Supervisor watches for that, waits with exponential backoff, and starts
// the component again.
//
// Features:
//   - Automatic restart on failure with exponential backoff
//   - Backoff reset once a run has been stable for a threshold
//   - Optional cap on restart attempts
//   - Non-recoverable errors end supervision instead of looping
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	sup := supervisor.New(relay, supervisor.Config{
//	    Name:             "relay",
//	    RestartOnFailure: true,
//	    RestartDelay:     time.Second,
//	    MaxRestartDelay:  time.Minute,
//	})
//
//	if err := sup.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sup.Stop()
package supervisor
