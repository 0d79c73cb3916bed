package initial

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"DeskPilot/internal/config"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGormDB 按配置打开结构化存储并自动迁移；sqlite 为嵌入式默认选项
func NewGormDB(conf *config.Config) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch strings.ToLower(conf.StoreConfig.Driver) {
	case "mysql":
		sc := conf.StoreConfig
		dbName := sc.DatabaseName
		if dbName == "" {
			dbName = conf.AppName
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", sc.User, sc.Password, sc.Host, sc.Port, dbName)
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		path := conf.StoreConfig.SqlitePath
		if path == "" {
			path = "data/deskpilot.db"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", conf.StoreConfig.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 自动迁移，如果没有建表，会自动创建对应的表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&notification.Record{}); err != nil {
		return err
	}
	for _, table := range repository.StateTables {
		if err := db.Table(table).AutoMigrate(&repository.StateRecord{}); err != nil {
			return err
		}
	}
	return nil
}
