package execution

import (
	"context"

	"quant_go/internal/domain"
	"quant_go/internal/engine"
)

// Client is the venue-facing side of the execution engine. A simulated
// venue responds synchronously; a live adapter would carry the commands
// over the wire and report outcomes back through the event stream.
type Client interface {
	Venue() string
	SubmitOrder(ctx context.Context, cmd domain.SubmitOrder) error
	SubmitOrderList(ctx context.Context, cmd domain.SubmitOrderList) error
	ModifyOrder(ctx context.Context, cmd domain.ModifyOrder) error
	CancelOrder(ctx context.Context, cmd domain.CancelOrder) error
	CancelAllOrders(ctx context.Context, cmd domain.CancelAllOrders) error
	QueryAccount(ctx context.Context, cmd domain.QueryAccount) error
}

// SimClient adapts a SimulatedExchange to the Client interface. Calls
// complete inline on the engine thread; outcomes surface as events from
// the venue's emit callbacks.
type SimClient struct {
	exchange *engine.SimulatedExchange
}

// NewSimClient wraps a simulated venue.
func NewSimClient(x *engine.SimulatedExchange) *SimClient {
	return &SimClient{exchange: x}
}

func (c *SimClient) Venue() string { return c.exchange.Venue() }

func (c *SimClient) SubmitOrder(_ context.Context, cmd domain.SubmitOrder) error {
	c.exchange.SubmitOrder(cmd.Order)
	return nil
}

func (c *SimClient) SubmitOrderList(_ context.Context, cmd domain.SubmitOrderList) error {
	c.exchange.SubmitOrderList(cmd.Orders)
	return nil
}

func (c *SimClient) ModifyOrder(_ context.Context, cmd domain.ModifyOrder) error {
	return c.exchange.ModifyOrder(cmd)
}

func (c *SimClient) CancelOrder(_ context.Context, cmd domain.CancelOrder) error {
	return c.exchange.CancelOrder(cmd)
}

func (c *SimClient) CancelAllOrders(_ context.Context, cmd domain.CancelAllOrders) error {
	return c.exchange.CancelAllOrders(cmd)
}

func (c *SimClient) QueryAccount(_ context.Context, _ domain.QueryAccount) error {
	c.exchange.QueryAccount()
	return nil
}
