// Package snapshot captures a diagnostic view of a runtime's active
// communicators and encodes it as CBOR for tooling. It owns no wire
// contract: the format is whatever the current structs marshal to.
package snapshot

import (
	"io"

	"github.com/fxamacker/cbor/v2"

	"commesh/pkg/comm"
)

// CommView is the serialized form of one communicator.
type CommView struct {
	Handle        int32  `cbor:"handle"`
	Name          string `cbor:"name,omitempty"`
	Kind          string `cbor:"kind"`
	Hierarchy     string `cbor:"hierarchy"`
	Rank          int    `cbor:"rank"`
	LocalSize     int    `cbor:"local_size"`
	RemoteSize    int    `cbor:"remote_size"`
	ContextID     int    `cbor:"context_id"`
	RecvContextID int    `cbor:"recv_context_id"`
	Seq           int    `cbor:"seq"`
	Tainted       bool   `cbor:"tainted,omitempty"`
	Revoked       bool   `cbor:"revoked,omitempty"`

	NodeCount      int   `cbor:"node_count,omitempty"`
	IntranodeTable []int `cbor:"intranode_table,omitempty"`
	InternodeTable []int `cbor:"internode_table,omitempty"`
}

// Snapshot is one rank's view of the library state.
type Snapshot struct {
	WorldRank   int        `cbor:"world_rank"`
	WorldSize   int        `cbor:"world_size"`
	ThreadLevel string     `cbor:"thread_level"`
	Comms       []CommView `cbor:"comms"`
}

// Capture walks the active-communicator chain, newest first.
func Capture(rt *comm.Runtime) *Snapshot {
	s := &Snapshot{
		WorldRank:   rt.Device().WorldRank(),
		WorldSize:   rt.Device().WorldSize(),
		ThreadLevel: rt.ThreadLevel().String(),
	}
	for _, c := range rt.ActiveComms() {
		v := CommView{
			Handle:        c.Handle(),
			Name:          c.Name(),
			Kind:          c.Kind().String(),
			Hierarchy:     c.Hierarchy().String(),
			Rank:          c.Rank(),
			LocalSize:     c.Size(),
			RemoteSize:    c.RemoteSize(),
			ContextID:     c.ContextID(),
			RecvContextID: c.RecvContextID(),
			Seq:           c.Seq(),
			Tainted:       c.Tainted(),
			Revoked:       c.IsRevoked(),
			NodeCount:     c.NodeCount(),
		}
		if c.IsParentComm() {
			for i := 0; i < c.Size(); i++ {
				v.IntranodeTable = append(v.IntranodeTable, c.IntranodeRank(i))
				v.InternodeTable = append(v.InternodeTable, c.InternodeRank(i))
			}
		}
		s.Comms = append(s.Comms, v)
	}
	return s
}

// Encode writes the snapshot as CBOR.
func (s *Snapshot) Encode(w io.Writer) error {
	return cbor.NewEncoder(w).Encode(s)
}

// Decode reads a snapshot back; used by tooling and tests.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
