package types

import (
	"fmt"
	"strings"
)

// TimestampLayout is the local, second-precision format stored on every ScanLog.
const TimestampLayout = "2006-01-02 15:04:05"

// UnknownVehicleNo is recorded when a scanned tag matches no registered vehicle.
const UnknownVehicleNo = "UNKNOWN"

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// ParseDirection accepts "IN"/"OUT" in any case. An empty string defaults to IN,
// matching what the manual scan form sends when no lane is chosen.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(DirectionIn):
		return DirectionIn, nil
	case string(DirectionOut):
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

type AccessStatus string

const (
	StatusAuthorized AccessStatus = "AUTHORIZED"
	StatusDenied     AccessStatus = "DENIED"
)

// ScanLog is one access decision. Logs are immutable once persisted.
type ScanLog struct {
	ID        string       `json:"id"`
	TagID     string       `json:"tagId"`
	VehicleNo string       `json:"vehicleNo"`
	Timestamp string       `json:"timestamp"`
	Direction Direction    `json:"direction"`
	Status    AccessStatus `json:"status"`
}

func (l ScanLog) Authorized() bool { return l.Status == StatusAuthorized }

// ScanRequest is the manual-scan payload accepted by the HTTP layer.
type ScanRequest struct {
	TagID     string `json:"tag_id"`
	Direction string `json:"direction,omitempty"`
}
