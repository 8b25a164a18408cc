package model

// NoneApplicationID is the reserved id of the placeholder application
const NoneApplicationID = 1

// Application is a registered application or a conjectural remote address
type Application struct {
	ID        int    `json:"id"`
	Code      string `json:"code"`
	IsAddress bool   `json:"is_address"`
	AddressID int    `json:"address_id,omitempty"`
}

// ApplicationList is one page of applications plus the total match count
type ApplicationList struct {
	Total int            `json:"total"`
	Items []*Application `json:"items"`
}

// ServiceName is a registered entry/exit operation of an application
type ServiceName struct {
	ID            int    `json:"id"`
	ApplicationID int    `json:"application_id"`
	Name          string `json:"name"`
	SrcSpanType   int    `json:"src_span_type"`
}

// Instance is one running agent of an application. OsInfo holds the
// JSON blob reported by the agent at registration.
type Instance struct {
	ID            int    `json:"id"`
	ApplicationID int    `json:"application_id"`
	AgentUUID     string `json:"agent_uuid"`
	RegisterTime  int64  `json:"register_time"`
	HeartbeatTime int64  `json:"heartbeat_time"`
	OsInfo        string `json:"os_info"`
}
