package tasks

import (
	"encoding/json"

	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/store"
)

func marshalStatus(t *store.Task) ([]byte, error) {
	return json.Marshal(schema.TaskStatusNotificationParams{
		TaskID:        t.ID,
		Status:        schema.TaskStatus(t.Status),
		StatusMessage: t.StatusMessage,
		Result:        t.Result,
	})
}
