package dbmysql

import (
	"gorm.io/gorm"

	"amplifi/internal/common"
)

// Newest pages a (created_at, id) ordered listing from the newest row down.
// table qualifies the columns when the query joins.
func Newest(table string, c common.Cursor, limit int) func(*gorm.DB) *gorm.DB {
	created, id := qualify(table)
	return func(db *gorm.DB) *gorm.DB {
		if !c.IsZero() {
			db = db.Where("("+created+" < ? OR ("+created+" = ? AND "+id+" < ?))", c.CreatedAt, c.CreatedAt, c.ID)
		}
		return db.Order(created + " DESC").Order(id + " DESC").Limit(limit + 1)
	}
}

// Oldest is Newest in ascending order, used by comment threads.
func Oldest(table string, c common.Cursor, limit int) func(*gorm.DB) *gorm.DB {
	created, id := qualify(table)
	return func(db *gorm.DB) *gorm.DB {
		if !c.IsZero() {
			db = db.Where("("+created+" > ? OR ("+created+" = ? AND "+id+" > ?))", c.CreatedAt, c.CreatedAt, c.ID)
		}
		return db.Order(created + " ASC").Order(id + " ASC").Limit(limit + 1)
	}
}

func qualify(table string) (string, string) {
	if table == "" {
		return "created_at", "id"
	}
	return table + ".created_at", table + ".id"
}
