package model

import "time"

type PresenceState string

const (
	PresenceConnecting PresenceState = "connecting"
	PresenceOnline     PresenceState = "online"
	PresenceOffline    PresenceState = "offline"
)

/*

UserPresence is a data model for a user's tracked liveness

State transitions are driven by explicit disconnect, the transport-fired
disconnect commitment, or the heartbeat timeout check evaluated lazily at
read time. There is no background sweep.

*/

type UserPresence struct {
	UserId      string `gorm:"primaryKey"`
	State       PresenceState
	LastChanged time.Time
}
