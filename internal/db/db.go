package db

import (
	"context"
	"errors"
	"fmt"

	"greenhouse/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps pgxpool.Pool and the gorm session opened on top of it
type DB struct {
	pool *pgxpool.Pool
	orm  *gorm.DB
}

// NewDB creates a new DB connection pool
func NewDB(url string) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		return nil, err
	}

	orm, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDBFromPool(pool),
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &DB{pool: pool, orm: orm}, nil
}

// Close closes the connection pool
func (d *DB) Close(ctx context.Context) error {
	if sqlDB, err := d.orm.DB(); err == nil {
		_ = sqlDB.Close()
	}
	d.pool.Close()
	return nil
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Gorm returns the ORM session
func (d *DB) Gorm() *gorm.DB {
	return d.orm
}

// Ping checks the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Migrate creates the schema and the DisplayOrder row
func Migrate(orm *gorm.DB) error {
	if err := orm.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	var order models.DisplayOrder
	err := orm.First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orm.Create(&models.DisplayOrder{}).Error
	}
	return err
}
