package infrastructure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sabzar/internal/pkg/config"
)

// OpenMySQL 打开 MySQL 连接池。
// ClientFoundRows 让 RowsAffected 返回匹配的行数而不是实际改变的行数，
// 条件更新依赖它来判断是否命中。
func OpenMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	dsn := mysqldriver.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsn.DBName = cfg.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.ClientFoundRows = true
	dsn.Params = map[string]string{"charset": "utf8mb4"}

	db, err := gorm.Open(mysql.Open(dsn.FormatDSN()), NewGormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect mysql %s: %w", dsn.Addr, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewGormConfig 返回所有方言共用的 GORM 配置。
func NewGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// Migrate 创建或更新表结构。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProductModel{}, &HoldModel{}, &HoldLineModel{})
}

// isDuplicateKey 判断是否违反了唯一约束 (MySQL 1062 或 SQLite UNIQUE)。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
