package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/escrow-invite-ledger/internal/domain/ledger"
)

const (
	// LedgerCollectionName is the name of the ledger collection in MongoDB
	LedgerCollectionName = "ledger_entries"
)

// LedgerRepository implements ledger.HistoryRepository for MongoDB. Documents are keyed
// by entry id, so replaying a mirrored entry overwrites instead of duplicating.
type LedgerRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewLedgerRepository creates a new MongoDB ledger history repository
func NewLedgerRepository(logger *slog.Logger, db *mongo.Database) ledger.HistoryRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// accountFilter matches entries where the account is on either side
func accountFilter(accountID uuid.UUID) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"from_account_id": accountID},
		bson.M{"to_account_id": accountID},
	}}
}

// Upsert stores the entry under its id
func (r *LedgerRepository) Upsert(ctx context.Context, entry *ledger.Entry) error {
	collection := r.db.Collection(LedgerCollectionName)

	opts := options.Replace().SetUpsert(true)
	_, err := collection.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, opts)
	if err != nil {
		r.logger.Error("Failed to upsert ledger entry",
			"entry_id", entry.ID.String(),
			"error", err)
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return nil
}

// GetByAccountID retrieves paginated ledger entries for an account.
// Results are sorted by creation time in descending order (newest first).
func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	collection := r.db.Collection(LedgerCollectionName)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, accountFilter(accountID), opts)
	if err != nil {
		r.logger.Error("Failed to get ledger entries",
			"account_id", accountID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ledger.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode ledger entries",
			"account_id", accountID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode ledger entries: %w", err)
	}

	return entries, nil
}

// CountByAccountID counts the total number of ledger entries for an account
func (r *LedgerRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	collection := r.db.Collection(LedgerCollectionName)

	count, err := collection.CountDocuments(ctx, accountFilter(accountID))
	if err != nil {
		r.logger.Error("Failed to count ledger entries",
			"account_id", accountID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	return count, nil
}

// EnsureIndexes creates the indexes the history queries rely on. It is idempotent.
func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(LedgerCollectionName)

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "from_account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "to_account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "hold_id", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, models); err != nil {
		r.logger.Error("Failed to create ledger indexes", "error", err)
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

// EnsureLedgerIndexes creates the history indexes on db
func EnsureLedgerIndexes(ctx context.Context, logger *slog.Logger, db *mongo.Database) error {
	return (&LedgerRepository{db: db, logger: logger}).EnsureIndexes(ctx)
}
