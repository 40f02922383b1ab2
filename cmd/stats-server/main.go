// Command stats-server is the remote counting service the sorter flushes
// usage to. It stores cumulative snapshots in Postgres (or SQLite for a
// single-box install) and serves them over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sweeney/waste-sorter/internal/statsapi"
)

const (
	defaultAddr     = ":8080"
	defaultDriver   = "postgres"
	defaultBasePath = "/api/stats"
)

type Config struct {
	ServerAddr   string
	DBDriver     string
	DatabaseDSN  string
	BasePath     string
	MaxOpenConns int
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddr:   getEnv("SERVER_ADDR", defaultAddr),
		DBDriver:     getEnv("DATABASE_DRIVER", defaultDriver),
		DatabaseDSN:  os.Getenv("DATABASE_DSN"),
		BasePath:     getEnv("STATS_BASE_PATH", defaultBasePath),
		MaxOpenConns: getEnvInt("DATABASE_MAX_CONNS", 10),
	}
	if cfg.DatabaseDSN == "" {
		if cfg.DBDriver != "sqlite" {
			return nil, fmt.Errorf("DATABASE_DSN is required for driver %q", cfg.DBDriver)
		}
		cfg.DatabaseDSN = "stats.db"
	}
	return cfg, nil
}

func dialector(cfg *Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(cfg.DatabaseDSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DatabaseDSN), nil
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DBDriver)
	}
}

func ProvideDatabase(lc fx.Lifecycle, cfg *Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sqlDB.Close()
		},
	})
	log.Printf("stats: using %s database", cfg.DBDriver)
	return db, nil
}

func RunMigrations(store *statsapi.Store) error {
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func RegisterRoutes(e *echo.Echo, h *statsapi.Handler, cfg *Config) {
	h.RegisterRoutes(e.Group(cfg.BasePath))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

func newApp(opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.Provide(
			ProvideDatabase,
			statsapi.NewStore,
			statsapi.NewHandler,
			statsapi.NewEcho,
		),
		fx.Invoke(RunMigrations, RegisterRoutes, StartServer),
	}, opts...)...)
}

func main() {
	newApp(fx.Provide(LoadConfig)).Run()
}
