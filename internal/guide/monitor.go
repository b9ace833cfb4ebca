package guide

// Monitor exposes the device's online/offline state and notifies
// subscribers when it transitions to online. The signal is link-layer
// best-effort only: Online returning true does not guarantee the server is
// reachable, and the sync manager must still handle request failures.
type Monitor interface {
	// Online reports the current reachability signal.
	Online() bool

	// Subscribe registers fn to be called on each transition to online and
	// returns a disposer. Multiple subscribers are supported with no
	// ordering guarantee among them. Callbacks must not block; a callback
	// that wants to sync should kick off an asynchronous drain.
	Subscribe(fn func()) (unsubscribe func())
}
