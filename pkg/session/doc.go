/*
Package session implements the client side of a staged workflow run.

A Machine is the pure state machine:

	idle -> starting -> clarifying -> running -> complete
	                 \-> running                \-> failed

A Session owns one Machine, binds it to a Workflow (streamed HTTP or a
persistent socket), serializes event delivery against caller operations, and
rejects re-entrant Start/SubmitAnswer calls with domain.ErrBusy.
*/
package session
