package store

import (
	"database/sql"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitMySQL 建立连接并迁移表结构，返回 gorm 句柄和底层 *sql.DB
// （各 store 用原生 SQL 工作）
func InitMySQL(dsn string) (*gorm.DB, *sql.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(&Document{}, &Operation{}, &Collaborator{}); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, sqlDB, nil
}
