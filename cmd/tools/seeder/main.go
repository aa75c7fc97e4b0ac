package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kasira-dev/fees-engine/internal/money"
	"github.com/kasira-dev/fees-engine/internal/store"
)

// Seeds demo customers, sessions and cart lines for local runs. Fee states
// are left at version zero; the first trigger on a session computes them.
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

	st := store.New(pool)

	customers := seedCustomers(ctx, pool)
	seedSessions(ctx, st, customers)

	log.Println("Seeding completed successfully!")
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool) []store.Customer {
	seeds := []struct {
		Email string
		Spend money.Money
	}{
		{"fresh@example.com", 0},
		{"occasional@example.com", 32500},
		{"bronze@example.com", 86000},
		{"silver@example.com", 264900},
		{"gold@example.com", 712000},
	}

	fmt.Println("Seeding Customers...")
	customers := make([]store.Customer, 0, len(seeds))
	for _, seed := range seeds {
		var c store.Customer
		err := pool.QueryRow(ctx, `
			INSERT INTO customers (email, lifetime_spend)
			VALUES ($1, $2)
			ON CONFLICT (email) DO UPDATE SET lifetime_spend = EXCLUDED.lifetime_spend
			RETURNING id, email, lifetime_spend;
		`, seed.Email, seed.Spend).Scan(&c.ID, &c.Email, &c.LifetimeSpend)
		if err != nil {
			log.Fatalf("Failed to seed customer %s: %v", seed.Email, err)
		}
		customers = append(customers, c)
		log.Printf("  customer %s spend=%s", c.Email, money.Format(c.LifetimeSpend))
	}
	return customers
}

type lineSeed struct {
	Title     string
	Qty       int32
	UnitPrice money.Money
}

func seedSessions(ctx context.Context, st *store.Store, customers []store.Customer) {
	seeds := []struct {
		Customer *uuid.UUID
		Method   string
		Shipping money.Money
		Lines    []lineSeed
	}{
		{
			Customer: &customers[2].ID,
			Method:   "cod",
			Shipping: 2626,
			Lines: []lineSeed{
				{"Standing desk", 1, 54500},
			},
		},
		{
			Customer: &customers[3].ID,
			Method:   "card",
			Shipping: 1500,
			Lines: []lineSeed{
				{"Ergonomic chair", 2, 89900},
				{"Desk mat", 1, 12900},
			},
		},
		{
			Customer: &customers[4].ID,
			Method:   "cod",
			Shipping: 4900,
			Lines: []lineSeed{
				{"Monitor arm", 3, 34900},
				{"Cable tray", 6, 4500},
			},
		},
		{
			Customer: nil,
			Method:   "transfer",
			Shipping: 0,
			Lines: []lineSeed{
				{"Laptop stand", 1, 24900},
			},
		},
	}

	fmt.Println("Seeding Sessions...")
	for _, seed := range seeds {
		sess, err := st.CreateSession(ctx, seed.Customer, seed.Method, 72*time.Hour)
		if err != nil {
			log.Fatalf("Failed to seed session: %v", err)
		}
		if seed.Shipping > 0 {
			if _, err := st.UpdateSessionShipping(ctx, sess.ID, seed.Shipping); err != nil {
				log.Fatalf("Failed to set shipping for session %s: %v", sess.ID, err)
			}
		}
		for _, line := range seed.Lines {
			if _, err := st.AddItem(ctx, sess.ID, uuid.New(), line.Title, line.Qty, line.UnitPrice); err != nil {
				log.Fatalf("Failed to seed item %q: %v", line.Title, err)
			}
		}
		log.Printf("  session %s method=%s lines=%d", sess.ID, seed.Method, len(seed.Lines))
	}
}
