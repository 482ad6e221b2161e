package model

// ProspectStatus is the global lifecycle state of a prospect
type ProspectStatus string

const (
	ProspectNew          ProspectStatus = "NEW"
	ProspectContacted    ProspectStatus = "CONTACTED"
	ProspectReplied      ProspectStatus = "REPLIED"
	ProspectUnsubscribed ProspectStatus = "UNSUBSCRIBED"
	ProspectBounced      ProspectStatus = "BOUNCED"
)

// EnrollmentStatus is the state of a prospect within one campaign
type EnrollmentStatus string

const (
	EnrollmentEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentPaused    EnrollmentStatus = "PAUSED"
	EnrollmentStopped   EnrollmentStatus = "STOPPED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentReplied   EnrollmentStatus = "REPLIED"
)

// TerminalEnrollmentStatuses end any further sending for an enrollment.
var TerminalEnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStopped,
	EnrollmentCompleted,
	EnrollmentReplied,
}

// ScheduledStatus is the state of a pending outbound send
type ScheduledStatus string

const (
	ScheduledPending        ScheduledStatus = "SCHEDULED"
	ScheduledRetryScheduled ScheduledStatus = "RETRY_SCHEDULED"
	ScheduledCancelled      ScheduledStatus = "CANCELLED"
	ScheduledSent           ScheduledStatus = "SENT"
	ScheduledFailed         ScheduledStatus = "FAILED"
)

// CancellableScheduledStatuses can still be cancelled before sending.
var CancellableScheduledStatuses = []ScheduledStatus{
	ScheduledPending,
	ScheduledRetryScheduled,
}

// ConversationStatus tracks whether a thread is still open in the inbox
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "OPEN"
	ConversationArchived ConversationStatus = "ARCHIVED"
)

// Direction of an inbox message relative to the connected mailbox
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// ReplyClassification is the intent assigned to an inbound reply
type ReplyClassification string

const (
	ClassInterested    ReplyClassification = "INTERESTED"
	ClassNotNow        ReplyClassification = "NOT_NOW"
	ClassNotInterested ReplyClassification = "NOT_INTERESTED"
	ClassNegative      ReplyClassification = "NEGATIVE"
	ClassOther         ReplyClassification = "OTHER"
	ClassOutOfOffice   ReplyClassification = "OUT_OF_OFFICE"
	ClassUnsubscribe   ReplyClassification = "UNSUBSCRIBE"
	ClassBounce        ReplyClassification = "BOUNCE"
	ClassNeedsReview   ReplyClassification = "NEEDS_REVIEW"
)

// ClassificationMethod records which stage produced a classification
type ClassificationMethod string

const (
	MethodRule ClassificationMethod = "RULE"
	MethodLLM  ClassificationMethod = "LLM"
)

// AuditAction names an audited auto-action
type AuditAction string

const (
	AuditProspectUnsubscribed AuditAction = "PROSPECT_UNSUBSCRIBED"
	AuditProspectBounced      AuditAction = "PROSPECT_BOUNCED"
)

// AuditEntityType names the kind of entity an audit entry refers to
type AuditEntityType string

const (
	EntityProspect AuditEntityType = "PROSPECT"
)
