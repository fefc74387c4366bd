package database

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.User == "" || cfg.Name == "" {
			return nil, errors.New("mysql configuration requires user and database name")
		}

		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := cfg.Port
		if port == 0 {
			port = 3306
		}

		user := cfg.User
		if cfg.Password != "" {
			user = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
		}

		dsn = fmt.Sprintf("%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, host, port, cfg.Name)
	}

	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}
