package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// FetchGroups returns the raw group list of the instance.
func (c *Client) FetchGroups(ctx context.Context, withParticipants bool) (json.RawMessage, error) {
	raw, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/group/fetchAllGroups/{instance}",
		query:  map[string]string{"getParticipants": strconv.FormatBool(withParticipants)},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	return json.RawMessage(raw), nil
}
