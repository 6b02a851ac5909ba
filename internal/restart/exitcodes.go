package restart

// ExitCodeRestartRequested is the process exit code that tells a
// supervising parent (or a container restart policy) to relaunch instead of
// staying down.
//
// Keep this stable. Supervisors compare against it to decide whether to respawn.
const ExitCodeRestartRequested = 23
