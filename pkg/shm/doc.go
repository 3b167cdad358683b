// Package shm implements the slot protocol of the shared region used to talk to the
// BOINC client runtime.
//
// The region is a file-backed mapping of NumChannels fixed-size slots. Each slot is a
// single-message mailbox:
//
//	[flag:1][utf8 text][NUL][stale bytes...]
//
// A non-zero flag means a message is pending. The reader drains the slot by clearing the
// flag, the writer fills it and sets the flag. There is no other synchronization: the
// peer process maps the same bytes and may write any of them at any time.
//
// Example usage:
//
//	region, err := shm.Open(ctx, shm.OpenOptions{Path: "boinc_mmap_file"})
//	if err != nil {
//	  // ...
//	}
//	defer region.Close()
//	_ = region.Channel(shm.ProcessControlRequest).WriteMessageOverwrite("<resume/>")
//	msg, ok, err := region.Channel(shm.AppStatus).TakeMessage()
package shm
