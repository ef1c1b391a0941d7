package gen

import (
	"smallbiznis-loyalty/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen",
	fx.Provide(NewNode),
)

// NewNode returns the snowflake node for this process. NODE_ID must be
// unique per running replica.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
