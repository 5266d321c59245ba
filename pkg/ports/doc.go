/*
Package ports defines the driven ports (interfaces) of the workflow backend
and the client's event mirror.

These interfaces decouple the backend's conversation handling and the
client's event fan-out from concrete storage and messaging systems.

# Key Interfaces

  - ConversationStore: persists clarification threads (memory, Redis or
    JSON files, optionally sealed by pkg/persistence/middleware).
  - DistributedLocker: serializes access to one thread across replicas.
  - EventPublisher: mirrors session events to an external bus (NATS).
*/
package ports
