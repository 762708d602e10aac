// Flows, partitioned by tenant id. The record id is the lower-cased command,
// so command lookup is a point read and a command binds to one webhook.
//
// Functions:
//
//   - CreateFlow(ctx, cmd, url) -> (flow, error); docstore.ErrItemExists
//     when cmd is already bound
//   - GetFlow(ctx, cmd) -> (flow, error); ErrNotFound for unknown commands
package repo

import (
	"context"
	"strings"

	"github.com/tbourn/notify-bot/internal/domain"
)

// CreateFlow binds cmd to url for the configured tenant. Rebinding an
// existing command fails with docstore.ErrItemExists.
func (r *Repository) CreateFlow(ctx context.Context, cmd, url string) (domain.Flow, error) {
	c, err := r.container(ctx, FlowsContainer)
	if err != nil {
		return domain.Flow{}, err
	}
	// Chat input is matched the same way in GetFlow.
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	f := domain.Flow{ID: cmd, TenantID: r.tenantID, Cmd: cmd, URL: url}
	res, err := c.CreateItem(ctx, f, r.maxTries)
	if err != nil {
		return domain.Flow{}, err
	}
	if err := res.Err(); err != nil {
		return domain.Flow{}, err
	}
	return f, nil
}

// GetFlow loads the flow bound to cmd.
func (r *Repository) GetFlow(ctx context.Context, cmd string) (domain.Flow, error) {
	var f domain.Flow
	if err := r.get(ctx, FlowsContainer, strings.ToLower(strings.TrimSpace(cmd)), r.tenantID, &f); err != nil {
		return domain.Flow{}, err
	}
	return f, nil
}
