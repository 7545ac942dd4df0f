package types

// ScanRequest is the JSON body accepted by POST /scan
type ScanRequest struct {
	URL                string `json:"url"`
	Standard           string `json:"standard,omitempty"`
	Viewport           string `json:"viewport,omitempty"`
	IncludeWarnings    bool   `json:"includeWarnings,omitempty"`
	IncludeCustomRules bool   `json:"includeCustomRules,omitempty"`
	Auth               *Auth  `json:"auth,omitempty"`
}

// Auth carries credentials for the scanned site
type Auth struct {
	Type     string            `json:"type,omitempty"` // "basic" or "bearer"
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Token    string            `json:"token,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// StatusPayload is the data of a status event
type StatusPayload struct {
	Message string `json:"message"`
	Phase   string `json:"phase"`
}

// ProgressPayload is the data of a progress event
type ProgressPayload struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}

// Impact is the severity level of a finding
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Rank orders impacts from minor (1) to critical (4). Unknown impacts rank 0.
func (i Impact) Rank() int {
	switch i {
	case ImpactCritical:
		return 4
	case ImpactSerious:
		return 3
	case ImpactModerate:
		return 2
	case ImpactMinor:
		return 1
	}
	return 0
}

// Finding is a single rule violation reported by the scan engine
type Finding struct {
	ID          string   `json:"id"`
	RuleID      string   `json:"ruleId"`
	Impact      Impact   `json:"impact"`
	Description string   `json:"description"`
	Help        string   `json:"help,omitempty"`
	Selector    string   `json:"selector,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Custom      bool     `json:"custom,omitempty"`
}

// Result is the aggregate outcome of a scan
type Result struct {
	URL             string    `json:"url"`
	Standard        string    `json:"standard,omitempty"`
	Score           int       `json:"score"`
	TotalIssues     int       `json:"totalIssues"`
	Findings        []Finding `json:"findings"`
	CustomRuleCount int       `json:"customRuleCount,omitempty"`
	ScannedAt       string    `json:"scannedAt,omitempty"`
}

// SeverityBreakdown counts findings per impact level
type SeverityBreakdown struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Minor    int `json:"minor"`
}

// CountBySeverity tallies findings by impact. Findings with an unknown impact are not counted.
func CountBySeverity(findings []Finding) SeverityBreakdown {
	var b SeverityBreakdown
	for _, f := range findings {
		switch f.Impact {
		case ImpactCritical:
			b.Critical++
		case ImpactSerious:
			b.Serious++
		case ImpactModerate:
			b.Moderate++
		case ImpactMinor:
			b.Minor++
		}
	}
	return b
}
