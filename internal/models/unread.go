package models

// SourceID names one unread counter feeding the inbox badge.
type SourceID string

const (
	SourceJob     SourceID = "job"
	SourceTeam    SourceID = "team"
	SourceCollege SourceID = "college"
	SourcePeer    SourceID = "peer"
)

// Sources lists unread sources in display order.
var Sources = []SourceID{SourceJob, SourceTeam, SourceCollege, SourcePeer}

// UnreadSource is the latest count reported by one source.
type UnreadSource struct {
	SourceID SourceID `json:"source_id"`
	Count    int      `json:"count"`
}
