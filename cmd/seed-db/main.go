package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	MRP       decimal.Decimal `json:"mrp"`
	CGSTRate  decimal.Decimal `json:"cgst_rate"`
	SGSTRate  decimal.Decimal `json:"sgst_rate"`
	IsTaxable bool            `json:"is_taxable"`
	Stock     int             `json:"stock"`
}

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	demoUser     string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.StringVar(&opts.demoUser, "demo-user", "demo-user", "user id that gets a saved address and a filled cart")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s := postgres.NewSeeder(pool)
	products, err := seedProducts(ctx, lg, s, opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromos(ctx, lg, s); err != nil {
		return errors.Wrap(err, "seed promos")
	}
	if err := seedFulfillment(ctx, lg, s, opts.demoUser); err != nil {
		return errors.Wrap(err, "seed fulfillment")
	}
	if err := seedCart(ctx, lg, s, opts.demoUser, products); err != nil {
		return errors.Wrap(err, "seed cart")
	}
	if err := seedAPIKey(ctx, lg, s, opts.apiKey, opts.apiKeyPepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, s *postgres.Seeder, path string) ([]productJSON, error) {
	lg.Info("Reading products file", zap.String("path", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		if err := s.UpsertProduct(ctx, catalog.Product{
			ID:        p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Price:     p.Price,
			MRP:       p.MRP,
			CGSTRate:  p.CGSTRate,
			SGSTRate:  p.SGSTRate,
			IsTaxable: p.IsTaxable,
			Stock:     p.Stock,
		}); err != nil {
			return nil, err
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))
	return products, nil
}

func seedPromos(ctx context.Context, lg *zap.Logger, s *postgres.Seeder) error {
	rules := []promo.Rule{
		{
			Code:         "SAVE20",
			DiscountType: pricing.DiscountPercent,
			Value:        decimal.NewFromInt(20),
			MinPurchase:  decimal.NewFromInt(500),
			MaxDiscount:  decimal.NewNullDecimal(decimal.NewFromInt(150)),
			Description:  "20% off orders above 500, up to 150",
		},
		{
			Code:         "FLAT50",
			DiscountType: pricing.DiscountAmount,
			Value:        decimal.NewFromInt(50),
			MinPurchase:  decimal.NewFromInt(300),
			Description:  "50 off orders above 300",
			MaxUses:      1000,
		},
	}
	for _, r := range rules {
		if err := s.UpsertPromo(ctx, r); err != nil {
			return err
		}
		lg.Info("Upserted promo", zap.String("code", r.Code), zap.String("description", r.Description))
	}
	return nil
}

func seedFulfillment(ctx context.Context, lg *zap.Logger, s *postgres.Seeder, userID string) error {
	locations := []fulfillment.PickupLocation{
		{ID: "store-indiranagar", Name: "Indiranagar Store", Address: "100 Feet Road, Indiranagar, Bengaluru"},
		{ID: "store-koramangala", Name: "Koramangala Store", Address: "80 Feet Road, Koramangala, Bengaluru"},
	}
	for _, loc := range locations {
		if err := s.UpsertPickupLocation(ctx, loc); err != nil {
			return err
		}
	}

	lat, lng := 12.9784, 77.6408
	addr := fulfillment.Address{
		ID:        "addr-home",
		UserID:    userID,
		Label:     "Home",
		Line1:     "12, 4th Cross",
		Line2:     "HAL 2nd Stage",
		City:      "Bengaluru",
		State:     "Karnataka",
		Pincode:   "560038",
		Phone:     "+919900000000",
		Latitude:  &lat,
		Longitude: &lng,
	}
	if err := s.UpsertAddress(ctx, addr); err != nil {
		return err
	}
	lg.Info("Upserted fulfillment data",
		zap.Int("pickup_locations", len(locations)),
		zap.String("address_id", addr.ID),
	)
	return nil
}

func seedCart(ctx context.Context, lg *zap.Logger, s *postgres.Seeder, userID string, products []productJSON) error {
	for i, p := range products {
		if i == 3 {
			break
		}
		if err := s.SetCartItem(ctx, userID, catalog.Item{ProductID: p.ID, Quantity: i + 1}); err != nil {
			return err
		}
	}
	lg.Info("Filled demo cart", zap.String("user_id", userID))
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, s *postgres.Seeder, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Default checkout key",
		Scopes:  []string{"checkout"},
	}
	if err := s.UpsertAPIKey(ctx, info); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.String("name", info.Name))
	return nil
}
