// Package device provides the in-process loopback implementation of the
// collaborator contracts consumed by pkg/comm: the commit hook that resolves
// mapper chains into rank-translation tables, the node-id oracle behind the
// hierarchy builder, the value exchange used by Split, the dynamic-process
// port rendezvous, and a counting progress engine.
//
// A Fabric simulates a world of ranks inside one process; each simulated
// rank drives its own comm.Runtime through an Endpoint. Real byte-moving
// transports live outside this repository and plug in through the same
// interfaces.
package device
