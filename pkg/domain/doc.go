/*
Package domain contains the core domain models of the prdflow client.

It defines the events produced by a workflow invocation, the session snapshot
maintained by the state machine, and the error taxonomy shared by every layer.
This package is kept pure and free of external dependencies like I/O or
transport.

# Key Entities

  - Event: Sealed sum type of everything a channel can deliver (start,
    clarifier batch, stage result, status, progress, question, complete, error).
  - Session: Snapshot of one run (state, questions and answers, stage payloads,
    summary).
  - Conversation: Backend-side record of a clarification thread.
*/
package domain
