package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"

	"smallbiznis-loyalty/pkg/config"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "db"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "loyalty"

	d, err := Dialect(cfg)
	require.NoError(t, err)
	pg, ok := d.(*postgres.Dialector)
	require.True(t, ok)
	require.Equal(t, "loyalty", getDBNameFromDialector(pg))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	my, ok := d.(*mysql.Dialector)
	require.True(t, ok)
	require.Equal(t, "loyalty", getDBNameFromDialector(my))

	cfg.Database.Type = "sqlite"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	_, ok = d.(*sqlite.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}
