package snowflake

import (
	"errors"
	"sync"
	"time"
)

// Layout: 41 bits of milliseconds since Epoch, 10 bits of node id,
// 12 bits of per-millisecond sequence. IDs from one node are strictly
// increasing, which keeps order numbers sortable by creation time.
const (
	// Epoch in unix milliseconds; ids store time relative to it
	Epoch int64 = 1288834974657

	// NodeBits and StepBits split the low 22 bits between node and
	// sequence
	NodeBits uint8 = 10
	StepBits uint8 = 12

	nodeMask = -1 ^ (-1 << NodeBits)
	stepMask = -1 ^ (-1 << StepBits)
	timeShift = NodeBits + StepBits
	nodeShift = StepBits
)

// IDGenerator mints snowflake ids for one node
type IDGenerator struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	step      int64
}

// NewIDGenerator creates a generator; nodeID must fit in NodeBits
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > nodeMask {
		return nil, errors.New("invalid node ID")
	}

	return &IDGenerator{
		timestamp: 0,
		nodeID:    nodeID,
		step:      0,
	}, nil
}

// NextID returns the next id, spinning into the next millisecond when
// the sequence wraps
func (g *IDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixNano() / 1000000

	if g.timestamp == now {
		g.step = (g.step + 1) & stepMask

		if g.step == 0 {
			// sequence wrapped within this millisecond
			for now <= g.timestamp {
				now = time.Now().UnixNano() / 1000000
			}
		}
	} else {
		g.step = 0
	}

	g.timestamp = now

	id := ((now - Epoch) << timeShift) |
		(g.nodeID << nodeShift) |
		g.step

	return id
}

// ParseID splits an id back into its parts
func ParseID(id int64) (timestamp int64, nodeID int64, step int64) {
	step = id & stepMask
	nodeID = (id >> nodeShift) & nodeMask
	timestamp = (id >> timeShift) + Epoch
	return
}

// GetTimestamp returns the unix millisecond timestamp of an id
func GetTimestamp(id int64) int64 {
	return (id >> timeShift) + Epoch
}

// GetNodeID returns the minting node of an id
func GetNodeID(id int64) int64 {
	return (id >> nodeShift) & nodeMask
}

// GetStep returns the sequence number of an id
func GetStep(id int64) int64 {
	return id & stepMask
}

