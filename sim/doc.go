// Package sim provides the partition-local kernel of the parallel
// discrete-event simulator.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - message.go: the Message (event) record, its packet window, header stack and side-channel infos
//   - allocator.go: the arena that hands out and recycles messages, with lifecycle checks
//   - queue.go: the (time, natural-order) EventQueue and the handle-linked List
//   - lookahead.go: the indexed min-heap of per-protocol lookahead commitments
//   - partition.go: scheduling, dispatch, cross-partition export/import and the lookahead report
//
// # Architecture
//
// A Partition is a sequential worker. Protocol code talks to the kernel
// through a Node (the "owner" of every call): Alloc, Send, RemoteSend,
// Free, Duplicate, Cancel and the lookahead-handle calls. Cross-partition
// messages are buffered in the partition's outbox; sim/cluster moves them
// between partitions at barriers and agrees on the safe-time horizon.
//
// # Failure model
//
// Contract violations (double free, use after free, header stack misuse,
// causality breaks) panic with a *ContractViolation naming the call site.
// sim/cluster recovers these per partition and aborts the run.
package sim
