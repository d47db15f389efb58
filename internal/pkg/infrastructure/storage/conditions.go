package storage

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	DeviceID int64
	APIKey   string
	Name     string
	Status   string

	LastSeenAfter time.Time

	offset *int
	limit  *int
}

func (c Condition) NamedArgs() pgx.NamedArgs {
	args := pgx.NamedArgs{}

	if c.DeviceID > 0 {
		args["device_id"] = c.DeviceID
	}
	if c.APIKey != "" {
		args["api_key"] = c.APIKey
	}
	if c.Name != "" {
		args["name"] = c.Name
	}
	if c.Status != "" {
		args["status"] = c.Status
	}
	if !c.LastSeenAfter.IsZero() {
		args["last_seen"] = c.LastSeenAfter.UTC()
	}
	if c.offset != nil {
		args["offset"] = *c.offset
	}
	if c.limit != nil {
		args["limit"] = *c.limit
	}

	return args
}

func (c Condition) Where() string {
	where := make([]string, 0, 4)

	if c.DeviceID > 0 {
		where = append(where, "id = @device_id")
	}
	if c.APIKey != "" {
		where = append(where, "api_key = @api_key")
	}
	if c.Name != "" {
		where = append(where, "name = @name")
	}
	if c.Status != "" {
		where = append(where, "status = @status")
	}
	if !c.LastSeenAfter.IsZero() {
		where = append(where, "last_seen >= @last_seen")
	}

	if len(where) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(where, " AND ")
}

func (c Condition) OffsetLimit() string {
	s := ""
	if c.offset != nil {
		s += "OFFSET @offset "
	}
	if c.limit != nil {
		s += "LIMIT @limit "
	}
	return s
}

func (c Condition) Offset() int {
	if c.offset != nil {
		return *c.offset
	}
	return 0
}

func WithDeviceID(deviceID int64) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceID = deviceID
		return c
	}
}

func WithAPIKey(apiKey string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.APIKey = apiKey
		return c
	}
}

func WithName(name string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Name = name
		return c
	}
}

func WithStatus(status string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Status = status
		return c
	}
}

func WithLastSeenAfter(t time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.LastSeenAfter = t
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.offset = &offset
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.limit = &limit
		return c
	}
}
