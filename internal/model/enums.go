package model

type ScheduleStatus string

const (
	ScheduleStatusActive         ScheduleStatus = "active"
	ScheduleStatusPaused         ScheduleStatus = "paused"
	ScheduleStatusCompleted      ScheduleStatus = "completed"
	ScheduleStatusError          ScheduleStatus = "error"
	ScheduleStatusRequiresReview ScheduleStatus = "requires_review"
)

type ScheduleType string

const (
	ScheduleTypeImmediate ScheduleType = "immediate"
	ScheduleTypeOnce      ScheduleType = "once"
	ScheduleTypeRecurring ScheduleType = "recurring"
	ScheduleTypeInterval  ScheduleType = "interval"
)

type AccountSelection string

const (
	AccountSelectionSpecific   AccountSelection = "specific"
	AccountSelectionRandom     AccountSelection = "random"
	AccountSelectionRoundRobin AccountSelection = "round-robin"
)

// ActivePool names which of the two rotation pools currently drives dispatch.
type ActivePool string

const (
	ActivePoolPrincipal ActivePool = "principal"
	ActivePoolSecondary ActivePool = "secondary"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusLimited  AccountStatus = "limited"
)

type ProxyStatus string

const (
	ProxyStatusActive   ProxyStatus = "active"
	ProxyStatusInactive ProxyStatus = "inactive"
)

type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

type CommentStatus string

const (
	CommentStatusPending   CommentStatus = "pending"
	CommentStatusScheduled CommentStatus = "scheduled"
	CommentStatusPosted    CommentStatus = "posted"
	CommentStatusFailed    CommentStatus = "failed"
)

type APIProfileStatus string

const (
	APIProfileStatusNotExceeded APIProfileStatus = "not_exceeded"
	APIProfileStatusExceeded    APIProfileStatus = "exceeded"
)

type IntervalUnit string

const (
	IntervalUnitMinutes IntervalUnit = "minutes"
	IntervalUnitHours   IntervalUnit = "hours"
	IntervalUnitDays    IntervalUnit = "days"
)

// AccountRole distinguishes the schedule<->account link tables.
type AccountRole string

const (
	AccountRoleSelected         AccountRole = "selected"
	AccountRolePrincipal        AccountRole = "principal"
	AccountRoleSecondary        AccountRole = "secondary"
	AccountRoleRotatedPrincipal AccountRole = "rotated_principal"
	AccountRoleRotatedSecondary AccountRole = "rotated_secondary"
)
