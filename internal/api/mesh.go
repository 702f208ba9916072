package api

import (
	"context"
	"net/http"

	"sheratan/internal/domain"
)

// Workers returns the mesh nodes; empty when the backend cannot be read.
func (c *Client) Workers(ctx context.Context) []domain.MeshNode {
	recs, err := getList[domain.WorkerRecord](ctx, c, OpWorkers, "/mesh/workers")
	if err != nil {
		c.absorb(OpWorkers, err)
		return []domain.MeshNode{}
	}
	return c.nodes(recs)
}

// Ledger returns the balance of user, or of the configured ledger user when
// user is empty.
func (c *Client) Ledger(ctx context.Context, user string) (domain.LedgerInfo, error) {
	if user == "" {
		user = c.LedgerUser
	}
	if user == "" {
		user = "alice"
	}
	var info domain.LedgerInfo
	if err := c.do(ctx, OpLedger, http.MethodGet, pathf("/mesh/ledger/%s", user), nil, &info); err != nil {
		return domain.LedgerInfo{UserID: user, Transfers: []domain.Transfer{}}, err
	}
	if info.UserID == "" {
		info.UserID = user
	}
	if info.Transfers == nil {
		info.Transfers = []domain.Transfer{}
	}
	return info, nil
}
