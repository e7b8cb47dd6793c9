package eviction

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/warden/pkg/storage"
	"github.com/harun/warden/pkg/toolexecutor"
)

const (
	// ReadToolName fetches evicted content. Its own output is never evicted.
	ReadToolName = "read_evicted_result"
	// ListToolName lists evicted artifacts.
	ListToolName = "list_evicted_results"
)

// RegisterTools exposes evicted content to the orchestrator through inv.
func (m *Manager) RegisterTools(inv *toolexecutor.Invoker) error {
	err := inv.RegisterTool(toolexecutor.ToolDefinition{
		Name:        ReadToolName,
		Description: "Read the full content of a tool result that was moved to storage because it was too large.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Storage path from the eviction notice", Required: true},
			{Name: "offset", Type: "integer", Description: "First line to return, 0-based", Default: 0},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines, 0 for all", Default: 0},
		},
		Handler: m.handleRead,
	})
	if err != nil {
		return err
	}

	return inv.RegisterTool(toolexecutor.ToolDefinition{
		Name:        ListToolName,
		Description: "List tool results that were moved to storage.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			infos, err := m.ListEvicted(ctx)
			if err != nil {
				return nil, err
			}
			return infos, nil
		},
	})
}

func (m *Manager) handleRead(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	p, _ := params["path"].(string)
	offset, err := intParam(params, "offset")
	if err != nil {
		return nil, toolexecutor.NewToolError(toolexecutor.ErrorKindValidation, err)
	}
	limit, err := intParam(params, "limit")
	if err != nil {
		return nil, toolexecutor.NewToolError(toolexecutor.ErrorKindValidation, err)
	}

	content, err := m.ReadEvictedResult(ctx, p, offset, limit)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidPath) {
			return nil, toolexecutor.NewToolError(toolexecutor.ErrorKindValidation, err)
		}
		return nil, err
	}
	return content, nil
}

func intParam(params map[string]interface{}, name string) (int, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%s must be an integer", name)
}
