package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm duplicated key", err: gorm.ErrDuplicatedKey, want: true},
		{name: "wrapped gorm duplicated key", err: fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "postgres unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "postgres other error", err: &pgconn.PgError{Code: "40001"}, want: false},
		{name: "mysql duplicate entry", err: &mysql.MySQLError{Number: 1062}, want: true},
		{name: "mysql other error", err: &mysql.MySQLError{Number: 1213, Message: "deadlock found"}, want: false},
		{name: "sqlite message", err: errors.New("UNIQUE constraint failed: chat_rooms.board_id"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err))
		})
	}
}
