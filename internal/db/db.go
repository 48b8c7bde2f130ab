package db

import (
	"strings"
	"time"

	"coursehub/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePrefix 标记本地开发与测试使用的 SQLite DSN，例如 "sqlite:file:dev.db"。
const sqlitePrefix = "sqlite:"

// Connect 负责建立数据库连接：sqlite: 前缀走 SQLite，其余视为 Postgres，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return OpenSQLite(strings.TrimPrefix(dsn, sqlitePrefix))
	}
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// OpenSQLite 打开一个单连接的 SQLite 数据库，串行化写入以避免 "database is locked"。
func OpenSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Migrate 自动迁移实时子系统依赖的全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Course{}, &models.Enrollment{}, &models.ChatRoom{}, &models.ChatMessage{})
}
