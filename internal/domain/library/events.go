package library

import "time"

type LockAction string

const (
	LockAcquired      LockAction = "acquired"
	LockReleased      LockAction = "released"
	LockForceReleased LockAction = "force_released"
)

// LockEvent describes a checkout state change of one asset.
type LockEvent struct {
	AssetName string     `json:"assetName"`
	Holder    string     `json:"holder"`
	Action    LockAction `json:"action"`
	At        time.Time  `json:"at"`
}
