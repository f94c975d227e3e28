package model

import "time"

// LRSSession cmi5 launch 时签发的临时凭证
type LRSSession struct {
	SessionID    string    `json:"sessionId"`
	AuthToken    string    `json:"authToken"`
	Endpoint     string    `json:"endpoint"`
	Registration string    `json:"registration"`
	ActorMbox    string    `json:"actorMbox"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *LRSSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// AuthHeader 同步引擎发送时使用的 Authorization 头
func (s *LRSSession) AuthHeader() string {
	return "Bearer " + s.AuthToken
}
