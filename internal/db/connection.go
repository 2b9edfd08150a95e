// Package db wraps the MySQL connection pool used by the Repository
// (R): retry-on-connect, a background health ticker, and a
// Transaction helper that retries the whole function body on
// transient infrastructure errors (never on a failed compare-and-set,
// which is a business outcome, not a transport failure).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type Config struct {
	Driver          string
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	Charset         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

type DB struct {
	*sql.DB
	cfg    Config
	mu     sync.RWMutex
	health bool
}

var (
	instance *DB
	once     sync.Once
)

func Initialize(cfg Config) error {
	var err error
	once.Do(func() {
		instance, err = newDB(cfg)
	})
	return err
}

func GetDB() *DB {
	if instance == nil {
		panic("database not initialized")
	}
	return instance
}

// New wraps an already-open connection without dialing or retry,
// for tests that hand the Repository a sqlmock-backed *sql.DB.
func New(conn *sql.DB) *DB {
	return &DB{DB: conn, cfg: Config{RetryAttempts: 0}, health: true}
}

func newDB(cfg Config) (*DB, error) {
	charset := cfg.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=Local&multiStatements=true",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, charset)

	var conn *sql.DB
	var err error

	for i := 0; i <= cfg.RetryAttempts; i++ {
		conn, err = sql.Open(cfg.Driver, dsn)
		if err == nil {
			err = conn.Ping()
			if err == nil {
				break
			}
		}

		if i < cfg.RetryAttempts {
			logger.WithField("attempt", i+1).WithError(err).Warn("database connection failed, retrying")
			time.Sleep(cfg.RetryDelay * time.Duration(i+1))
		}
	}

	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to connect to database")
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	wrapper := &DB{DB: conn, cfg: cfg, health: true}
	go wrapper.healthCheck()

	logger.Info("database connection established")
	return wrapper, nil
}

func (d *DB) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.PingContext(ctx)
		cancel()

		d.mu.Lock()
		old := d.health
		d.health = err == nil
		d.mu.Unlock()

		if old != d.health {
			if d.health {
				logger.Info("database connection recovered")
			} else {
				logger.WithError(err).Error("database connection lost")
			}
		}
	}
}

func (d *DB) IsHealthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// Transaction retries fn on transient infrastructure errors. fn must
// not assume it will be called exactly once; it is the caller's job
// (see internal/repository) to keep individual statements idempotent
// or to rely on compare-and-set semantics for the one case where
// idempotency matters (occurrence status).
func (d *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for i := 0; i <= d.cfg.RetryAttempts; i++ {
		err = d.transaction(ctx, fn)
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return err
		}

		if i < d.cfg.RetryAttempts {
			backoff := d.cfg.RetryDelay * time.Duration(i+1)
			if d.cfg.RetryDelay > 0 {
				backoff += time.Duration(rand.Int63n(int64(d.cfg.RetryDelay)))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				logger.WithField("attempt", i+1).WithError(err).Warn("transaction failed, retrying")
			}
		}
	}

	return apperr.Wrap(err, apperr.ErrBackendUnavailable, "transaction failed after retries")
}

func (d *DB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*apperr.AppError); ok {
		return appErr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadlock", "try restarting transaction",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}
