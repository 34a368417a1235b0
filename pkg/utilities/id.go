package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewSessionID returns a fresh opaque session identifier. KSUIDs carry 128
// bits from crypto/rand after the timestamp prefix.
func NewSessionID() string {
	return ksuid.New().String()
}

// NewRequestID generates a snowflake ID string using a node ID from the
// environment variable SNOWFLAKE_NODE (default 1). If the node cannot be
// initialized it falls back to a KSUID string.
func NewRequestID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		node, _ = snowflake.NewNode(nodeID)
	})
	if node == nil {
		return ksuid.New().String()
	}
	return node.Generate().String()
}
