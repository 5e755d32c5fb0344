package ids

import (
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cast"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Next returns a new snowflake id. The node number can be set with the
// WAPLANE_NODE_ID environment variable when running multiple instances.
func Next() int64 {
	once.Do(func() {
		nodeID := cast.ToInt64(os.Getenv("WAPLANE_NODE_ID"))
		if nodeID < 0 || nodeID > 1023 {
			nodeID = 0
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			panic(err)
		}
		node = n
	})
	return node.Generate().Int64()
}
