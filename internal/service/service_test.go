package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/gateway"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/internal/repository/memory"
)

var principal = domain.Principal{OperatorID: "op-1", SourceAddress: "10.0.0.7"}

// directGateway runs calls inline with a fixed credential, or fails them with err
type directGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *directGateway) Execute(ctx context.Context, p domain.Principal, call gateway.CallFunc) error {
	g.mu.Lock()
	g.calls++
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return call(ctx, "test-key")
}

func (g *directGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// queuedGateway runs calls through a real request queue with a fixed credential
type queuedGateway struct {
	queue *queue.Queue
}

func (g *queuedGateway) Execute(ctx context.Context, p domain.Principal, call gateway.CallFunc) error {
	return g.queue.Enqueue(ctx, queue.Normal, func(ctx context.Context) error {
		return call(ctx, "test-key")
	})
}

// contextOrders fails writes on a done context, as database/sql does
type contextOrders struct {
	repository.OrderRepository
}

func (r contextOrders) MarkSubmitted(ctx context.Context, id uuid.UUID, partnerReference string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.OrderRepository.MarkSubmitted(ctx, id, partnerReference, at)
}

func (r contextOrders) MarkSubmissionFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.OrderRepository.MarkSubmissionFailed(ctx, id, reason, at)
}

// contextTasks fails task writes on a done context
type contextTasks struct {
	repository.RetryTaskRepository
}

func (r contextTasks) Create(ctx context.Context, task *domain.RetryTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.RetryTaskRepository.Create(ctx, task)
}

func (r contextTasks) Complete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.RetryTaskRepository.Complete(ctx, id)
}

type stubClient struct {
	// entered receives once per CreateOrder call and gate, when set, holds the call open
	entered chan struct{}
	gate    chan struct{}

	mu        sync.Mutex
	createErr error
	created   []partner.CreateOrderRequest
	statuses  map[string]string
	statusErr map[string]error
	panicOn   string
	products  map[domain.ProductType][]domain.Product
}

func newStubClient() *stubClient {
	return &stubClient{
		statuses:  make(map[string]string),
		statusErr: make(map[string]error),
		products:  make(map[domain.ProductType][]domain.Product),
	}
}

func (c *stubClient) CreateOrder(ctx context.Context, apiKey string, req partner.CreateOrderRequest) (*partner.CreateOrderResponse, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, req)
	if c.createErr != nil {
		return nil, c.createErr
	}
	return &partner.CreateOrderResponse{RespID: "RES00001", OrderNo: "LAB-" + req.OrderID[:8]}, nil
}

func (c *stubClient) OrderStatus(ctx context.Context, apiKey, orderNo string) (*partner.OrderStatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if orderNo == c.panicOn {
		panic("malformed partner payload")
	}
	if err := c.statusErr[orderNo]; err != nil {
		return nil, err
	}
	return &partner.OrderStatusResponse{RespID: "RES00001", OrderNo: orderNo, Status: c.statuses[orderNo]}, nil
}

func (c *stubClient) Products(ctx context.Context, apiKey string, productType domain.ProductType) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[productType], nil
}

func (c *stubClient) setStatus(orderNo, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[orderNo] = status
}

func (c *stubClient) createdCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

// recordingPublisher keeps published events in memory
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	repos     *repository.Repositories
	tasks     *memory.RetryTaskRepository
	gateway   *directGateway
	client    *stubClient
	publisher *recordingPublisher
}

func newFixture() *fixture {
	tasks := memory.NewRetryTaskRepository()
	return &fixture{
		repos: &repository.Repositories{
			Order:     memory.NewOrderRepository(),
			Session:   memory.NewSessionRepository(),
			Operator:  memory.NewOperatorRepository(),
			RetryTask: tasks,
		},
		tasks:     tasks,
		gateway:   &directGateway{},
		client:    newStubClient(),
		publisher: &recordingPublisher{},
	}
}

// seedOrder stores an order directly, optionally already submitted under reference
func (f *fixture) seedOrder(status domain.LocalStatus, reference string, createdAt time.Time) *domain.Order {
	order := &domain.Order{
		OperatorID:  uuid.New(),
		LocalStatus: status,
		Customer:    domain.Customer{Name: "Asha", Phone: "9876543210", Address: "12 MG Road", Pincode: "560001"},
		Items:       []domain.OrderItem{{ProductCode: "CBC", ProductType: domain.ProductTypeTest, Price: 350}},
		Total:       350,
		CreatedAt:   createdAt,
	}
	if reference != "" {
		order.PartnerReference = &reference
	}
	if err := f.repos.Order.Create(context.Background(), order); err != nil {
		panic(err)
	}
	return order
}
