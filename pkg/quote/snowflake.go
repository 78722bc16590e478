// 文件: pkg/quote/snowflake.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package quote

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 报价 ID 生成器，并发安全
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator nodeID: 节点ID (0-1023)，多实例部署时必须不同
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// Next 生成报价ID
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
