// Package comm implements the communicator object model and lifecycle of the
// commesh library: the reference-counted communicator itself, the transient
// mapping protocol used by the device layer to resolve addressing during
// construction, the per-communicator hint registry, and the node/node-roots
// hierarchical decomposition.
//
// Key concepts:
//   - Runtime: library-lifetime context owning the global critical section,
//     the builtin communicators, the hint registry, the context-id allocator
//     and the active-communicator chain
//   - Comm: a ranked process group plus a context id isolating its traffic;
//     intracommunicators carry one rank space, intercommunicators two
//   - mapper: insertion-ordered chain of map nodes describing how the new
//     communicator's rank spaces derive from existing ones; consumed by the
//     device commit hook and freed before the communicator is published
//   - hints: dense-indexed per-communicator tunables with registered
//     defaults, types and optional validators
//
// Construction is single-threaded per object: the creating goroutine owns a
// communicator exclusively from create to commit. After commit the identity
// fields (rank, size, context ids) are immutable and read lock-free.
package comm
