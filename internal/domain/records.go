package domain

// Wire shapes of the orchestration backend. Every field except the id is
// optional on the wire; the api package fills in defaults when it builds
// view models from these.

type MissionRecord struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string         `json:"updated_at,omitempty" format:"date-time"`
}

type TaskRecord struct {
	ID          string         `json:"id"`
	MissionID   string         `json:"mission_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Status      string         `json:"status,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string         `json:"updated_at,omitempty" format:"date-time"`
}

type JobRecord struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Result    any            `json:"result,omitempty"`
	CreatedAt string         `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string         `json:"updated_at,omitempty" format:"date-time"`
}

type Capability struct {
	Kind string  `json:"kind"`
	Cost float64 `json:"cost"`
}

type WorkerRecord struct {
	WorkerID     string       `json:"worker_id"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Status       string       `json:"status,omitempty"`
	LastSeen     float64      `json:"last_seen,omitempty"`
	Endpoint     string       `json:"endpoint,omitempty"`
}

type Transfer struct {
	ID        string  `json:"id"`
	FromUser  string  `json:"from_user"`
	ToUser    string  `json:"to_user"`
	Amount    float64 `json:"amount"`
	Memo      string  `json:"memo,omitempty"`
	CreatedAt string  `json:"created_at,omitempty" format:"date-time"`
}

// LedgerInfo is a read-only balance snapshot for one mesh user.
type LedgerInfo struct {
	UserID    string     `json:"user_id"`
	Balance   float64    `json:"balance"`
	Transfers []Transfer `json:"transfers"`
}

// CoreStatus is the body of GET /status.
type CoreStatus struct {
	Status   string `json:"status"`
	Missions int    `json:"missions"`
	Model    string `json:"model,omitempty"`
}

type SystemMetrics struct {
	CPU         float64 `json:"cpu"`
	Memory      float64 `json:"memory"`
	QueueLength int     `json:"queueLength"`
	ErrorRate   float64 `json:"errorRate"`
}

// Service is one entry of GET /system/health.
type Service struct {
	Name      string `json:"name"`
	Port      int    `json:"port"`
	Status    string `json:"status" enum:"up,down,degraded"`
	Uptime    string `json:"uptime"`
	LastCheck string `json:"lastCheck"`
}

type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Status     string `json:"status" enum:"active,inactive"`
	LastAccess string `json:"lastAccess"`
	FileCount  int    `json:"fileCount"`
}

type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type" enum:"file,directory"`
	Children []FileNode `json:"children,omitempty"`
}

// QuickStartResult is returned by the standard code analysis shortcut.
type QuickStartResult struct {
	Mission struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"mission"`
	Task struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"task"`
	Job *struct {
		ID string `json:"id"`
	} `json:"job,omitempty"`
}
