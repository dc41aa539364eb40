// Package knock implements the knock protocol: sentinel listeners that
// observe connection attempts, a per-address sequence tracker, and the
// access scheduler that grants and later revokes firewall access.
//
// Data flows one way:
//
//	Listener -> Event -> Tracker.RecordKnock -> AccessScheduler.Activate
//	                                              -> firewall.Backend.Grant
//	                                              -> clock.AfterFunc(ttl) -> Revoke
//
// Revocation timers are never cancelled. Each grant carries the per-address
// generation observed when the sequence completed, and a timer only revokes
// if that generation is still current when it fires.
package knock
