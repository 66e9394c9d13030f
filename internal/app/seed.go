package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
)

var seedCaller = domain.Caller{UserID: "system:seed", Role: domain.RoleAdmin}

// demoCatalog — товары для локального запуска.
var demoCatalog = []domain.Product{
	{ID: "sku-notebook", Name: "Notebook A5", Price: 25_000, StockQuantity: 100},
	{ID: "sku-pen-black", Name: "Gel pen, black", Price: 8_000, StockQuantity: 250},
	{ID: "sku-backpack", Name: "Backpack 20L", Price: 350_000, StockQuantity: 10},
	{ID: "sku-mug", Name: "Ceramic mug", Price: 45_000, StockQuantity: 0},
	{ID: "sku-poster", Name: "Poster (discontinued)", Price: 60_000, StockQuantity: 5, Status: domain.ProductStatusInactive},
}

// seedDemoCatalog заводит демо-каталог. Уже существующие товары пропускаются.
func seedDemoCatalog(ctx context.Context, svc *inventory.Service, logger *log.Entry) error {
	created := 0
	for _, p := range demoCatalog {
		if _, err := svc.Register(ctx, seedCaller, p); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}
		created++
	}
	logger.WithField("products", created).Info("demo catalog seeded")
	return nil
}
