package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/billsync/backend/internal/domain/billing"
)

// Call is one recorded invocation of the fake provider
type Call struct {
	Method string
	Args   []any
}

// NotFoundError is returned for operations on unknown remote ids
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such %s: '%s'", e.Kind, e.ID)
}

// FakeRemoteClient is an in-memory billing.RemoteClient that records calls
// and fails on demand. It is safe for concurrent use.
type FakeRemoteClient struct {
	mu       sync.Mutex
	seq      int
	calls    []Call
	failures map[string]error

	customers      map[string]*billing.RemoteCustomer
	paymentMethods map[string][]billing.PaymentMethod
	products       map[string]*billing.RemoteProduct
	prices         map[string][]billing.Price
	subscriptions  map[string]*billing.RemoteSubscription

	LastProration    billing.ProrationBehavior
	LastCancelPolicy billing.CancelPolicy
}

var _ billing.RemoteClient = (*FakeRemoteClient)(nil)

// NewFakeRemoteClient creates an empty fake provider
func NewFakeRemoteClient() *FakeRemoteClient {
	return &FakeRemoteClient{
		failures:       make(map[string]error),
		customers:      make(map[string]*billing.RemoteCustomer),
		paymentMethods: make(map[string][]billing.PaymentMethod),
		products:       make(map[string]*billing.RemoteProduct),
		prices:         make(map[string][]billing.Price),
		subscriptions:  make(map[string]*billing.RemoteSubscription),
	}
}

// FailOn makes every call to method return err until cleared with a nil err
func (f *FakeRemoteClient) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns a copy of the recorded calls
func (f *FakeRemoteClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times method was invoked, failed calls included
func (f *FakeRemoteClient) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// HasCustomer reports whether id exists remotely
func (f *FakeRemoteClient) HasCustomer(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.customers[id]
	return ok
}

// HasProduct reports whether id exists remotely
func (f *FakeRemoteClient) HasProduct(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.products[id]
	return ok
}

// Subscription returns a copy of the remote subscription, or nil
func (f *FakeRemoteClient) Subscription(id string) *billing.RemoteSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// record must be called with f.mu held
func (f *FakeRemoteClient) record(method string, args ...any) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	return f.failures[method]
}

func (f *FakeRemoteClient) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_fake%d", prefix, f.seq)
}

func (f *FakeRemoteClient) CreateCustomer(ctx context.Context, name string, attrs map[string]string) (*billing.RemoteCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateCustomer", name, attrs); err != nil {
		return nil, err
	}
	c := &billing.RemoteCustomer{
		ID:       f.nextID("cus"),
		Name:     name,
		Email:    attrs["email"],
		Metadata: maps.Clone(attrs),
	}
	f.customers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *FakeRemoteClient) DestroyCustomer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DestroyCustomer", id); err != nil {
		return err
	}
	if _, ok := f.customers[id]; !ok {
		return &NotFoundError{Kind: "customer", ID: id}
	}
	delete(f.customers, id)
	delete(f.paymentMethods, id)
	return nil
}

func (f *FakeRemoteClient) RetrieveCustomer(ctx context.Context, id string) (*billing.RemoteCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RetrieveCustomer", id); err != nil {
		return nil, err
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, &NotFoundError{Kind: "customer", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (f *FakeRemoteClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*billing.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AttachPaymentMethod", customerID, paymentMethodID, setAsDefault); err != nil {
		return nil, err
	}
	c, ok := f.customers[customerID]
	if !ok {
		return nil, &NotFoundError{Kind: "customer", ID: customerID}
	}
	pm := billing.PaymentMethod{
		ID:         paymentMethodID,
		CustomerID: customerID,
		Type:       "card",
		Brand:      gofakeit.RandomString([]string{"visa", "mastercard", "amex"}),
		Last4:      gofakeit.Numerify("####"),
		ExpMonth:   int64(gofakeit.Number(1, 12)),
		ExpYear:    int64(time.Now().Year() + gofakeit.Number(1, 5)),
	}
	f.paymentMethods[customerID] = append(f.paymentMethods[customerID], pm)
	if setAsDefault {
		c.DefaultPaymentMethod = paymentMethodID
	}
	return &pm, nil
}

func (f *FakeRemoteClient) ListPaymentMethods(ctx context.Context, customerID string) ([]billing.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListPaymentMethods", customerID); err != nil {
		return nil, err
	}
	return append([]billing.PaymentMethod(nil), f.paymentMethods[customerID]...), nil
}

func (f *FakeRemoteClient) CreateProduct(ctx context.Context, name string, attrs map[string]string) (*billing.RemoteProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateProduct", name, attrs); err != nil {
		return nil, err
	}
	p := &billing.RemoteProduct{
		ID:          f.nextID("prod"),
		Name:        name,
		Description: attrs["description"],
		Active:      true,
		Metadata:    maps.Clone(attrs),
	}
	f.products[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *FakeRemoteClient) DestroyProduct(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DestroyProduct", id); err != nil {
		return err
	}
	if _, ok := f.products[id]; !ok {
		return &NotFoundError{Kind: "product", ID: id}
	}
	delete(f.products, id)
	delete(f.prices, id)
	return nil
}

func (f *FakeRemoteClient) RetrieveProduct(ctx context.Context, id string) (*billing.RemoteProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RetrieveProduct", id); err != nil {
		return nil, err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, &NotFoundError{Kind: "product", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (f *FakeRemoteClient) CreatePrice(ctx context.Context, input billing.CreatePriceInput) (*billing.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePrice", input); err != nil {
		return nil, err
	}
	if _, ok := f.products[input.ProductID]; !ok {
		return nil, &NotFoundError{Kind: "product", ID: input.ProductID}
	}
	currency := input.Currency
	if currency == "" {
		currency = "usd"
	}
	p := billing.Price{
		ID:                f.nextID("price"),
		ProductID:         input.ProductID,
		UnitAmount:        input.UnitAmount,
		Currency:          currency,
		RecurringInterval: input.RecurringInterval,
		Nickname:          input.Nickname,
		Active:            true,
	}
	f.prices[input.ProductID] = append(f.prices[input.ProductID], p)
	return &p, nil
}

func (f *FakeRemoteClient) ListPrices(ctx context.Context, productID string) ([]billing.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListPrices", productID); err != nil {
		return nil, err
	}
	return append([]billing.Price(nil), f.prices[productID]...), nil
}

func (f *FakeRemoteClient) CreateSubscription(ctx context.Context, customerID, priceID string) (*billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSubscription", customerID, priceID); err != nil {
		return nil, err
	}
	if _, ok := f.customers[customerID]; !ok {
		return nil, &NotFoundError{Kind: "customer", ID: customerID}
	}
	s := &billing.RemoteSubscription{
		ID:         f.nextID("sub"),
		CustomerID: customerID,
		PriceID:    priceID,
		ItemID:     f.nextID("si"),
		Status:     "active",
	}
	f.subscriptions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *FakeRemoteClient) UpdateSubscription(ctx context.Context, id, newPriceID string, proration billing.ProrationBehavior) (*billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateSubscription", id, newPriceID, proration); err != nil {
		return nil, err
	}
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "subscription", ID: id}
	}
	s.PriceID = newPriceID
	f.LastProration = proration
	cp := *s
	return &cp, nil
}

func (f *FakeRemoteClient) DeleteSubscription(ctx context.Context, id string, policy billing.CancelPolicy) (*billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteSubscription", id, policy); err != nil {
		return nil, err
	}
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "subscription", ID: id}
	}
	now := time.Now()
	s.Status = "canceled"
	s.CanceledAt = &now
	f.LastCancelPolicy = policy
	cp := *s
	return &cp, nil
}

func (f *FakeRemoteClient) RetrieveSubscription(ctx context.Context, id string) (*billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RetrieveSubscription", id); err != nil {
		return nil, err
	}
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "subscription", ID: id}
	}
	cp := *s
	return &cp, nil
}
