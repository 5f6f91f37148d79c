package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/webscout/internal/models"
)

const (
	EventProductsSaved = "PRODUCTS_SAVED"
	ProductsStream     = "stream:webscout:products"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// ProductRecord is a stored product together with the batch it was saved in.
type ProductRecord struct {
	ID        uuid.UUID `json:"id"`
	BatchID   uuid.UUID `json:"batchId"`
	Site      string    `json:"site"`
	CreatedAt time.Time `json:"createdAt"`
	models.Product
}

type ProductFilter struct {
	Site   string
	Name   string
	Seller string
	Limit  int
}

// ProductsSavedPayload is published once per saved batch.
type ProductsSavedPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
	Site    string    `json:"site"`
	Count   int       `json:"count"`
	Names   []string  `json:"names"`
}

type ProductRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db, outbox: NewOutboxRepository(db)}
}

// InsertProducts stores one extraction batch and queues a PRODUCTS_SAVED
// event in the same transaction. A nil batchID gets a fresh id.
func (r *ProductRepository) InsertProducts(ctx context.Context, batchID uuid.UUID, site string, products []models.Product) ([]ProductRecord, error) {
	if len(products) == 0 {
		return []ProductRecord{}, nil
	}
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}

	records := make([]ProductRecord, 0, len(products))
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		now := time.Now().UTC()

		for _, p := range products {
			rec := ProductRecord{
				ID:        uuid.New(),
				BatchID:   batchID,
				Site:      site,
				CreatedAt: now,
				Product:   p.Clone(),
			}
			images, err := json.Marshal(nonNil(rec.Images))
			if err != nil {
				return fmt.Errorf("failed to marshal images: %w", err)
			}

			batch.Queue(`
				INSERT INTO products (
					id, batch_id, site, name, price, image, images,
					seller, sold, rating, rating_count, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				rec.ID, rec.BatchID, rec.Site, rec.Name, rec.Price, rec.Image, images,
				rec.Seller, rec.Sold, rec.Rating, rec.RatingCount, rec.CreatedAt,
			)
			records = append(records, rec)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert products: %w", err)
		}

		payload, err := json.Marshal(savedPayload(batchID, site, records))
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateID:  batchID.String(),
			EventType:    EventProductsSaved,
			Payload:      payload,
			TargetStream: ProductsStream,
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func savedPayload(batchID uuid.UUID, site string, records []ProductRecord) ProductsSavedPayload {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return ProductsSavedPayload{BatchID: batchID, Site: site, Count: len(records), Names: names}
}

// ListProducts returns stored products, newest first. Name and seller are
// case-insensitive substring filters.
func (r *ProductRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]ProductRecord, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	records := []ProductRecord{}
	for rows.Next() {
		var rec ProductRecord
		var images []byte
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.Site, &rec.Name, &rec.Price, &rec.Image, &images,
			&rec.Seller, &rec.Sold, &rec.Rating, &rec.RatingCount, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if err := json.Unmarshal(images, &rec.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
		if len(rec.Images) == 0 {
			rec.Images = nil
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func buildListQuery(filter ProductFilter) (string, []interface{}) {
	var where []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Site != "" {
		add("site = $%d", filter.Site)
	}
	if filter.Name != "" {
		add("name ILIKE $%d", "%"+escapeLike(filter.Name)+"%")
	}
	if filter.Seller != "" {
		add("seller ILIKE $%d", "%"+escapeLike(filter.Seller)+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var b strings.Builder
	b.WriteString(`SELECT id, batch_id, site, name, price, image, images,
		seller, sold, rating, rating_count, created_at
		FROM products`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT $%d", len(args))

	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
