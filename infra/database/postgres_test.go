package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"homeroom/config"
)

func TestDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Address:  "db",
		Port:     5433,
		User:     "u",
		Password: "p",
		DBName:   "homeroom",
		TimeZone: "Asia/Tokyo",
	}
	assert.Equal(t, "host=db user=u password=p dbname=homeroom port=5433 sslmode=disable TimeZone=Asia/Tokyo", DSN(cfg))

	cfg.TimeZone = ""
	assert.Contains(t, DSN(cfg), "TimeZone=UTC")
}
