/*
Package domain contains the core domain models of the recall engine.

It defines the conversation transcript, the per-thread execution state, checkpoints and the
error taxonomy shared by the engine and its adapters. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Message: One entry of the transcript (user, assistant or tool).
  - ConversationState: The transcript plus the recall memories loaded for the current turn.
  - StateUpdate: The partial update a step returns; merged by the engine at step boundaries.
  - ConversationKey: Owner + thread, the identity of one checkpoint lineage.
  - Checkpoint: The persisted state of a key plus its compare-and-swap version.
*/
package domain
