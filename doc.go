// Package kernel implements the execution core of a microkernel-style
// operating system: process and thread control blocks, a multi-algorithm
// multi-level feedback queue scheduler, thread-lifecycle and synchronization
// primitives, and the timer/DPC machinery that drives preemption.
//
// IPC, drivers, filesystems, containers, security, distributed management,
// the UI, and physical/virtual memory management are not part of this
// package; they are external collaborators that consume the entry points
// exposed here (see Kernel and its methods).
package kernel
