package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/webshop-saga/internal/domain/auth"
	"github.com/xenking/webshop-saga/internal/domain/stock"
	"github.com/xenking/webshop-saga/internal/handler"
	"github.com/xenking/webshop-saga/internal/repository"
)

type seedJSON struct {
	Customers []struct {
		ID     string `json:"id"`
		Points int64  `json:"points"`
	} `json:"customers"`
	Delivery struct {
		Sender string `json:"sender"`
		Units  []struct {
			ProductID    int64  `json:"productId"`
			SerialNumber string `json:"serialNumber"`
		} `json:"units"`
	} `json:"delivery"`
}

func main() {
	var (
		databaseURL  string
		seedFile     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading seed file", slog.String("path", seedFile))

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	if err := seedBalances(ctx, repository.NewLoyaltyRepository(pool), seed); err != nil {
		return errors.Wrap(err, "seed balances")
	}

	stockSvc := stock.NewService(repository.NewInventoryRepository(pool), nil, nil)
	if err := seedDelivery(ctx, stockSvc, seed); err != nil {
		return errors.Wrap(err, "seed delivery")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedBalances(ctx context.Context, repo *repository.LoyaltyRepository, seed seedJSON) error {
	slog.Info("seeding loyalty balances", slog.Int("count", len(seed.Customers)))

	for _, c := range seed.Customers {
		if err := repo.SetBalance(ctx, c.ID, c.Points); err != nil {
			return err
		}

		slog.Info("set balance", slog.String("customer", c.ID), slog.Int64("points", c.Points))
	}

	return nil
}

// seedDelivery receives the opening delivery once. A delivery from the same
// sender means the database was already seeded.
func seedDelivery(ctx context.Context, svc *stock.Service, seed seedJSON) error {
	existing, err := svc.ListDeliveries(ctx)
	if err != nil {
		return err
	}
	for _, d := range existing {
		if d.Sender == seed.Delivery.Sender {
			slog.Info("opening delivery already present", slog.Int64("id", d.ID))
			return nil
		}
	}

	units := make([]stock.Unit, 0, len(seed.Delivery.Units))
	for _, u := range seed.Delivery.Units {
		units = append(units, stock.Unit{ProductID: u.ProductID, SerialNumber: u.SerialNumber})
	}
	d, err := svc.ReceiveDelivery(ctx, seed.Delivery.Sender, units)
	if err != nil {
		return err
	}

	slog.Info("received opening delivery", slog.Int64("id", d.ID), slog.Int("units", len(d.Units)))

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Default test key",
		Scopes:  []string{auth.ScopeOrders, auth.ScopeStock, auth.ScopeLoyalty, auth.ScopeFulfillment},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default test key"))

	return nil
}
