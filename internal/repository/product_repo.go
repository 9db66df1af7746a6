package repository

import (
	"context"
	"errors"

	"ledgerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("商品不存在")

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) CreateSku(ctx context.Context, sku *model.ProductSku) error {
	return r.db.WithContext(ctx).Create(sku).Error
}

// GetSalePrice 查询商品及其售价，SKU价格优先于商品价格
//
// 价格无法确定时 price.Valid 为 false。
func (r *ProductRepository) GetSalePrice(ctx context.Context, tx *gorm.DB, productID int64) (*model.Product, decimal.NullDecimal, error) {
	var product model.Product
	db := conn(r.db, tx).WithContext(ctx)
	if err := db.Where("id = ?", productID).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, decimal.NullDecimal{}, ErrProductNotFound
		}
		return nil, decimal.NullDecimal{}, err
	}

	var skus []*model.ProductSku
	if err := db.Where("product_id = ? AND price IS NOT NULL", productID).Order("id ASC").Limit(1).Find(&skus).Error; err != nil {
		return nil, decimal.NullDecimal{}, err
	}
	if len(skus) > 0 && skus[0].Price.Valid {
		return &product, skus[0].Price, nil
	}
	return &product, product.Price, nil
}
