// Package singleinstance keeps a second collectord from starting against the
// same data directory. Two daemons appending to one event log would lose
// each other's writes.
//
//	release, ok, err := singleinstance.AcquireLock(lockPath)
//	if err != nil { log.Fatal(err) }
//	if !ok { log.Println("Another instance is running"); return }
//	defer release()
package singleinstance
