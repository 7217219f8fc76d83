package domain

// DashboardStats is the aggregate overview served to the dashboard.
type DashboardStats struct {
	TotalSessions     int   `json:"totalSessions"`
	ConnectedSessions int   `json:"connectedSessions"`
	MessagesReceived  int64 `json:"messagesReceived"`
	MessagesSent      int64 `json:"messagesSent"`
	Errors            int64 `json:"errors"`
	UptimeSeconds     int64 `json:"uptimeSeconds"`
}
