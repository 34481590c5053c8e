// Package dbtest 为测试提供独立的 SQLite 内存数据库。
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"freelancehub/internal/database"
)

// Open 返回一个已建表的内存库，每次调用互不共享数据。
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sqlite: %v", err)
	}
	// 单连接避免事务期间的共享缓存锁冲突。
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser 创建一个用户并返回其 ID。
func SeedUser(t testing.TB, db *gorm.DB, name, email string) string {
	t.Helper()
	user := database.User{Name: name, Email: email}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return user.ID
}

// SeedClient 创建用户及其雇主档案，返回用户 ID。
func SeedClient(t testing.TB, db *gorm.DB, email string) string {
	t.Helper()
	userID := SeedUser(t, db, "Client "+email, email)
	if err := db.Create(&database.Client{UserID: userID, Headline: "Hiring"}).Error; err != nil {
		t.Fatalf("seed client %s: %v", email, err)
	}
	return userID
}

// SeedFreelancer 创建用户及其自由职业者档案，返回用户 ID。
func SeedFreelancer(t testing.TB, db *gorm.DB, email string) string {
	t.Helper()
	userID := SeedUser(t, db, "Freelancer "+email, email)
	if err := db.Create(&database.Freelancer{UserID: userID, Skills: []string{"go"}}).Error; err != nil {
		t.Fatalf("seed freelancer %s: %v", email, err)
	}
	return userID
}
