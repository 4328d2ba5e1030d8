package pushmonitor

import "fmt"

// ExecutionStatus is the lifecycle status of a push, as reported by a single
// replica or aggregated over the cluster. The numeric codes are what replicas
// write; they carry no ordering, use CompareProgress for that.
type ExecutionStatus int

const (
	NotCreated                 ExecutionStatus = 0
	New                        ExecutionStatus = 1
	Started                    ExecutionStatus = 2
	EndOfPushReceived          ExecutionStatus = 3
	Progress                   ExecutionStatus = 4
	TopicSwitchReceived        ExecutionStatus = 5
	CatchUpBaseTopicOffsetLag  ExecutionStatus = 6
	StartOfIncrementalPushRecv ExecutionStatus = 7
	EndOfIncrementalPushRecv   ExecutionStatus = 8
	Dropped                    ExecutionStatus = 9
	Completed                  ExecutionStatus = 10
	Error                      ExecutionStatus = 11
	Warning                    ExecutionStatus = 12
	Archived                   ExecutionStatus = 13
	Unknown                    ExecutionStatus = 14

	DvcIngestionErrorDiskFull             ExecutionStatus = 18
	DvcIngestionErrorMemoryLimitReached   ExecutionStatus = 19
	DvcIngestionErrorTooManyDeadInstances ExecutionStatus = 20
	DvcIngestionErrorOther                ExecutionStatus = 21
)

var statusNames = map[ExecutionStatus]string{
	NotCreated:                            "NOT_CREATED",
	New:                                   "NEW",
	Started:                               "STARTED",
	EndOfPushReceived:                     "END_OF_PUSH_RECEIVED",
	Progress:                              "PROGRESS",
	TopicSwitchReceived:                   "TOPIC_SWITCH_RECEIVED",
	CatchUpBaseTopicOffsetLag:             "CATCH_UP_BASE_TOPIC_OFFSET_LAG",
	StartOfIncrementalPushRecv:            "START_OF_INCREMENTAL_PUSH_RECEIVED",
	EndOfIncrementalPushRecv:              "END_OF_INCREMENTAL_PUSH_RECEIVED",
	Dropped:                               "DROPPED",
	Completed:                             "COMPLETED",
	Error:                                 "ERROR",
	Warning:                               "WARNING",
	Archived:                              "ARCHIVED",
	Unknown:                               "UNKNOWN",
	DvcIngestionErrorDiskFull:             "DVC_INGESTION_ERROR_DISK_FULL",
	DvcIngestionErrorMemoryLimitReached:   "DVC_INGESTION_ERROR_MEMORY_LIMIT_REACHED",
	DvcIngestionErrorTooManyDeadInstances: "DVC_INGESTION_ERROR_TOO_MANY_DEAD_INSTANCES",
	DvcIngestionErrorOther:                "DVC_INGESTION_ERROR_OTHER",
}

// progressOrder lists every status from least to most complete. Errors come
// first so a single failed replica dominates any minimum.
var progressOrder = []ExecutionStatus{
	Error,
	DvcIngestionErrorDiskFull,
	DvcIngestionErrorMemoryLimitReached,
	DvcIngestionErrorTooManyDeadInstances,
	DvcIngestionErrorOther,
	Unknown,
	NotCreated,
	New,
	Started,
	Progress,
	EndOfPushReceived,
	TopicSwitchReceived,
	CatchUpBaseTopicOffsetLag,
	StartOfIncrementalPushRecv,
	EndOfIncrementalPushRecv,
	Warning,
	Completed,
	Dropped,
	Archived,
}

var ordinals = func() map[ExecutionStatus]int {
	ans := make(map[ExecutionStatus]int, len(progressOrder))
	for i, s := range progressOrder {
		ans[s] = i
	}
	return ans
}()

func (s ExecutionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

func (s ExecutionStatus) Code() int {
	return int(s)
}

func (s ExecutionStatus) IsError() bool {
	switch s {
	case Error,
		DvcIngestionErrorDiskFull,
		DvcIngestionErrorMemoryLimitReached,
		DvcIngestionErrorTooManyDeadInstances,
		DvcIngestionErrorOther:
		return true
	default:
		return false
	}
}

// IsTerminal reports statuses after which a push doesn't move any more.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case Completed, Archived, Dropped:
		return true
	default:
		return s.IsError()
	}
}

// ExecutionStatusFromCode returns false for codes no replica should write.
func ExecutionStatusFromCode(code int) (ExecutionStatus, bool) {
	s := ExecutionStatus(code)
	_, ok := statusNames[s]
	return s, ok
}

func ExecutionStatusFromName(name string) (ExecutionStatus, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return Unknown, false
}

// CompareProgress returns a negative number if a is less complete than b,
// zero if equal, and positive otherwise.
func CompareProgress(a, b ExecutionStatus) int {
	return ordinals[a] - ordinals[b]
}

func MinProgress(a, b ExecutionStatus) ExecutionStatus {
	if CompareProgress(b, a) < 0 {
		return b
	}
	return a
}

type ExecutionStatusWithDetails struct {
	Status  ExecutionStatus `json:"status"`
	Details string          `json:"details,omitempty"`
}

func (e *ExecutionStatusWithDetails) String() string {
	if e.Details == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Details
}
