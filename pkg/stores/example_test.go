package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/contractflow/contractflow/pkg/stores"
	"github.com/contractflow/contractflow/pkg/workflow"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: stores.MemoryPath,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_WithTx demonstrates writing a contract and its first
// audit entry atomically.
func ExampleSQLiteStore_WithTx() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now().UTC()
	err := store.WithTx(ctx, func(tx workflow.Tx) error {
		c := &workflow.Contract{
			ID:               "c-001",
			Title:            "Hosting agreement",
			Status:           workflow.StatusDraft,
			CounterpartyName: "Globex",
			RequiredTracks:   []workflow.TrackType{workflow.TrackLegal},
			CreatedBy:        "alice",
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.CreateContract(ctx, c); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &workflow.AuditEntry{
			ContractID: c.ID,
			Action:     workflow.ActionCreated,
			ActorID:    "alice",
			CreatedAt:  now,
		})
	})
	if err != nil {
		log.Fatal(err)
	}

	trail, _ := store.ListAudit(ctx, "c-001", 10, 0)
	fmt.Println(len(trail), trail[0].Action)
	// Output: 1 CONTRACT_CREATED
}
