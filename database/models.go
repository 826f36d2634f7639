package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Priority of a card
type Priority string

const (
	PriorityWithout Priority = "without"
	PriorityLow     Priority = "low"
	PriorityMedium  Priority = "medium"
	PriorityHigh    Priority = "high"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityWithout, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// IDList is an ordered list of entity ids stored as a JSON array
type IDList []string

// Value implements driver.Valuer
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal id list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *IDList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = IDList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported id list source %T", src)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("failed to unmarshal id list: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	*l = ids
	return nil
}

// IndexOf returns the position of id in the list, or -1
func (l IDList) IndexOf(id string) int {
	for i, v := range l {
		if v == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is in the list
func (l IDList) Contains(id string) bool {
	return l.IndexOf(id) >= 0
}

// Without returns a copy of the list with every occurrence of id removed
func (l IDList) Without(id string) IDList {
	out := make(IDList, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

type User struct {
	ID              string    `db:"id" json:"_id"`
	Name            string    `db:"name" json:"name"`
	Email           string    `db:"email" json:"email"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Theme           string    `db:"theme" json:"theme"`
	AvatarURL       string    `db:"avatar_url" json:"avatarURL"`
	BackgroundImage string    `db:"background_image" json:"backgroundImage,omitempty"`
	Token           *string   `db:"token" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

type Dashboard struct {
	ID              string    `db:"id" json:"_id"`
	Owner           string    `db:"owner_id" json:"owner"`
	Name            string    `db:"name" json:"name"`
	Slug            string    `db:"slug" json:"slug"`
	Icon            string    `db:"icon" json:"icon,omitempty"`
	BackgroundImage string    `db:"background_image" json:"backgroundImage,omitempty"`
	Columns         IDList    `db:"column_ids" json:"columns"`
	Version         int64     `db:"version" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

type Column struct {
	ID    string `db:"id" json:"_id"`
	Name  string `db:"name" json:"name"`
	Cards IDList `db:"card_ids" json:"cards"`
}

type Card struct {
	ID          string     `db:"id" json:"_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description,omitempty"`
	Priority    Priority   `db:"priority" json:"priority"`
	Deadline    *time.Time `db:"deadline" json:"deadline,omitempty"`
	ColumnID    string     `db:"column_id" json:"columnId"`
}

// HelpRequest is a support message left by a user
type HelpRequest struct {
	ID        string    `db:"id" json:"_id"`
	Owner     string    `db:"owner_id" json:"owner"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
