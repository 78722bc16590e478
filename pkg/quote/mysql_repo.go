// 文件: pkg/quote/mysql_repo.go
package quote

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var _ Repository = (*MySQLRepository)(nil)

type MySQLRepository struct {
	db *gorm.DB
}

// OpenMySQL 打开连接，autoMigrate 时建表
func OpenMySQL(dsn string, autoMigrate bool) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	if autoMigrate {
		if err := db.AutoMigrate(&Quote{}); err != nil {
			return nil, fmt.Errorf("migrate quotes: %w", err)
		}
	}
	return db, nil
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Create(ctx context.Context, q *Quote) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *MySQLRepository) GetByQuoteID(ctx context.Context, quoteID int64) (*Quote, error) {
	var q Quote
	err := r.db.WithContext(ctx).Where("quote_id = ?", quoteID).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *MySQLRepository) ListRecent(ctx context.Context, limit int) ([]*Quote, error) {
	var quotes []*Quote
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&quotes).Error
	return quotes, err
}
