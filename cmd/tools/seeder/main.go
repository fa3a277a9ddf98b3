package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Seeds the demo catalog used throughout the docs: four products, two of
// them with an active bulk promotion.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedProducts(ctx, pool)
	seedPromotions(ctx, pool)

	log.Println("Seeding completed successfully!")
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) {
	products := []struct {
		SKU       string
		Name      string
		UnitPrice string
	}{
		{"A", "Apple", "0.50"},
		{"B", "Bread", "0.30"},
		{"C", "Cheese", "0.20"},
		{"D", "Dates", "0.10"},
	}

	log.Println("Seeding products...")
	for _, p := range products {
		_, err := pool.Exec(ctx, `
			INSERT INTO products (sku, name, unit_price, is_active)
			VALUES ($1, $2, $3::numeric, true)
			ON CONFLICT (sku) DO UPDATE
			SET name = EXCLUDED.name, unit_price = EXCLUDED.unit_price, is_active = true, updated_at = now();
		`, p.SKU, p.Name, p.UnitPrice)
		if err != nil {
			log.Printf("Failed to seed product %s: %v", p.SKU, err)
		}
	}
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) {
	promotions := []struct {
		SKU          string
		Quantity     int
		SpecialPrice string
	}{
		{"A", 3, "1.30"},
		{"B", 2, "0.45"},
	}

	log.Println("Seeding promotions...")
	for _, p := range promotions {
		tx, err := pool.Begin(ctx)
		if err != nil {
			log.Printf("Failed to begin promotion seed for %s: %v", p.SKU, err)
			continue
		}
		_, err = tx.Exec(ctx, `
			UPDATE promotions SET is_active = false, updated_at = now()
			WHERE product_id = (SELECT id FROM products WHERE sku = $1);
		`, p.SKU)
		if err == nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO promotions (product_id, quantity, special_price, is_active)
				SELECT id, $2, $3::numeric, true FROM products WHERE sku = $1;
			`, p.SKU, p.Quantity, p.SpecialPrice)
		}
		if err != nil {
			log.Printf("Failed to seed promotion for %s: %v", p.SKU, err)
			_ = tx.Rollback(ctx)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			log.Printf("Failed to commit promotion seed for %s: %v", p.SKU, err)
		}
	}
}
