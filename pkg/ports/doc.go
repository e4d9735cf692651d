/*
Package ports defines the driven ports (interfaces) for the espalier engine.

These interfaces decouple the orchestration core from external implementations,
allowing the engine to work with various storage backends, lock services and
pipeline collaborators.

# Key Interfaces

  - Node: one step of the pipeline (analyzer, generator, executor, ...).
  - CheckpointStore: responsible for persisting and loading session checkpoints.
  - DistributedLocker: provides non-blocking distributed locking for concurrent session access.
*/
package ports
