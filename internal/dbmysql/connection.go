package dbmysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/config"

	"github.com/cenkalti/backoff/v4"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const mysqlDuplicateEntry = 1062

// NewMySQL opens the GORM pool, retrying with exponential backoff while the
// server is still coming up.
func NewMySQL(ctx context.Context, cnf *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cnf.Logging.Level == "debug" {
		logLevel = logger.Info
	}

	var db *gorm.DB
	connect := func() error {
		var err error
		db, err = gorm.Open(mysql.Open(cnf.DSN()), &gorm.Config{
			Logger:      logger.Default.LogMode(logLevel),
			PrepareStmt: true,
		})
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		return sqlDB.PingContext(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	notify := func(err error, wait time.Duration) {
		common.Log.WithError(err).Warnf("MySQL not ready, retrying in %s", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("cannot connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql.DB error: %w", err)
	}
	sqlDB.SetMaxOpenConns(cnf.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cnf.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	common.Log.Infof("Connected to MySQL at %s:%s/%s", cnf.Database.Host, cnf.Database.Port, cnf.Database.DatabaseName)

	return db, nil
}

// Models lists every table owned by the relational store, in migration order.
func Models() []interface{} {
	return []interface{}{
		&User{}, &Follow{}, &Device{}, &PushSubscription{},
		&MediaRef{},
		&Post{}, &Comment{}, &Reaction{}, &ReactionCount{}, &Bookmark{},
		&Conversation{}, &ConversationParticipant{}, &Message{}, &MessageRead{},
		&LiveStream{},
		&Tip{}, &Payout{}, &WebhookEvent{},
		&Product{}, &Order{}, &OrderItem{}, &PODOrder{},
		&Notification{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// IsDuplicateKey reports a unique-index violation from MySQL.
func IsDuplicateKey(err error) bool {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
