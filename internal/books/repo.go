package books

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
)

// Repository exposes catalog reads used by checkout and the dashboard.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Book, error)
	ListLowStock(ctx context.Context, threshold int) ([]LowStockBook, error)
}

// LowStockBook joins a book with its remaining purchasable stock.
type LowStockBook struct {
	BookID       uuid.UUID `json:"book_id"`
	Title        string    `json:"title"`
	AvailableQty int       `json:"available_qty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *repository) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Book
	err := r.db.WithContext(ctx).
		Where("id IN ? AND active = ?", ids, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListLowStock(ctx context.Context, threshold int) ([]LowStockBook, error) {
	var rows []LowStockBook
	err := r.db.WithContext(ctx).
		Table("inventory_items").
		Select("inventory_items.book_id AS book_id, books.title AS title, inventory_items.available_qty AS available_qty").
		Joins("JOIN books ON books.id = inventory_items.book_id").
		Where("inventory_items.available_qty <= ?", threshold).
		Order("inventory_items.available_qty ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
