package events

// EventData is implemented by typed event payloads so publishers cannot
// attach a payload to the wrong event type.
type EventData interface {
	EventType() EventType
}

// SessionCreatedData is attached to SessionCreated events.
type SessionCreatedData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Component string `json:"component"`
	ExpiresAt int64  `json:"expires_at"`
}

func (d *SessionCreatedData) EventType() EventType { return SessionCreated }

// SessionExpiredData is attached to SessionExpired events.
type SessionExpiredData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Component string `json:"component"`
}

func (d *SessionExpiredData) EventType() EventType { return SessionExpired }

// FetchCompletedData is attached to FetchCompleted events.
type FetchCompletedData struct {
	UserID     string `json:"user_id"`
	QueryType  string `json:"query_type"`
	Provider   string `json:"provider"`
	DurationMs int64  `json:"duration_ms"`
}

func (d *FetchCompletedData) EventType() EventType { return FetchCompleted }

// FetchFailedData is attached to FetchFailed events.
type FetchFailedData struct {
	UserID    string `json:"user_id"`
	QueryType string `json:"query_type"`
	Error     string `json:"error"`
}

func (d *FetchFailedData) EventType() EventType { return FetchFailed }

// CreditsDebitedData is attached to CreditsDebited events.
type CreditsDebitedData struct {
	UserID           string `json:"user_id"`
	Action           string `json:"action"`
	CreditsUsed      int    `json:"credits_used"`
	CreditsRemaining int    `json:"credits_remaining"`
}

func (d *CreditsDebitedData) EventType() EventType { return CreditsDebited }

// CacheSweptData is attached to CacheSwept events.
type CacheSweptData struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

func (d *CacheSweptData) EventType() EventType { return CacheSwept }

// BackupCompletedData is attached to BackupCompleted events.
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

func (d *BackupCompletedData) EventType() EventType { return BackupCompleted }
