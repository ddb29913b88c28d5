package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]port.Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]port.Product)}
}

func (c *Catalog) Put(id, name string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = port.Product{ID: id, Name: name, Price: price}
}

func (c *Catalog) GetProduct(_ context.Context, productID string) (*port.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}
