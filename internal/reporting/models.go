package reporting

// CallHistorySummary aggregates one conversation's call sessions.
type CallHistorySummary struct {
	ConversationID string `json:"conversation_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	// CanceledCalls were ended by the caller before anyone answered.
	CanceledCalls int `json:"canceled_calls"`
	RejectedCalls int `json:"rejected_calls"`
	MissedCalls   int `json:"missed_calls"`
	ActiveCalls   int `json:"active_calls"`

	VideoCalls int `json:"video_calls"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
}
