/*
Package ports defines the driven ports (interfaces) of the recall engine.

These interfaces decouple the graph execution engine from external implementations, allowing
it to work with various model providers, memory services and checkpoint backends.

# Key Interfaces

  - LanguageModel: Streams a completion (text fragments and tool-call requests).
  - MemoryStore: Owner-scoped long-term memory (save and relevance-ranked search).
  - CheckpointStore: Per-conversation persistence with compare-and-swap on version.
  - DistributedLocker: Optional cross-replica lock used by front ends to serialize a key.
*/
package ports
