package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 聚合全部仓储，WithTx 在同一事务内重建一套。
type Repository struct {
	DB         *gorm.DB
	Catalog    CatalogRepo
	Variants   VariantRepo
	Activities ActivityRepo
	Mirrors    MirrorRepo
	Index      IndexRepo
	Groups     GroupRepo
	Orders     OrderLineRepo
	Outbox     OutboxRepo
}

func build(db *gorm.DB) *Repository {
	return &Repository{
		DB:         db,
		Catalog:    NewCatalogRepo(db),
		Variants:   NewVariantRepo(db),
		Activities: NewActivityRepo(db),
		Mirrors:    NewMirrorRepo(db),
		Index:      NewIndexRepo(db),
		Groups:     NewGroupRepo(db),
		Orders:     NewOrderLineRepo(db),
		Outbox:     NewOutboxRepo(db),
	}
}

func New(db *gorm.DB) *Repository { return build(db) }

// WithTx 把 fn 包在一个事务里；fn 内只能使用 tx 上的仓储。
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(build(tx))
	})
}
