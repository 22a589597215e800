package models

import (
	"time"
)

// Beacon is a fixed indoor location marker (maps to the beacons table).
// Beacons are created and edited by the admin console; they are never
// deleted while incidents reference them.
type Beacon struct {
	BeaconID  string    `json:"beacon_id" db:"beacon_id"`
	Name      string    `json:"name" db:"name"`
	Building  string    `json:"building" db:"building"`
	Floor     int       `json:"floor" db:"floor"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BeaconProximity is a directed edge of the beacon adjacency graph
// (maps to the beacon_proximities table). Lower priority means nearer:
// 1 = same floor, 2 = adjacent, and so on. Priorities among edges that
// share a from_beacon_id form a dense ordering starting at 1.
type BeaconProximity struct {
	FromBeaconID string `json:"from_beacon_id" db:"from_beacon_id"`
	ToBeaconID   string `json:"to_beacon_id" db:"to_beacon_id"`
	Priority     int    `json:"priority" db:"priority"`
}
