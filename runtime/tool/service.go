package tool

import (
	"context"
	"fmt"

	"github.com/plango-run/plango/runtime"
)

// AsService adapts a Tool into a runtime.Service via runtime.JSONService:
// a node registered this way resolves its JsonInput document the same way
// any other node does, hands the result to t.Call as the tool's input map,
// and stores t.Call's result map as its OutputCell.
func AsService(t Tool) runtime.Service {
	return runtime.JSONService{
		Handle: func(ctx context.Context, _ *runtime.Context, se runtime.ServiceEntity, input any) (any, error) {
			m, ok := input.(map[string]interface{})
			if !ok {
				if input != nil {
					return nil, fmt.Errorf("tool: node %q (%s): input is %T, want map[string]interface{}", se.NodeName, t.Name(), input)
				}
				m = map[string]interface{}{}
			}
			return t.Call(ctx, m)
		},
	}
}
