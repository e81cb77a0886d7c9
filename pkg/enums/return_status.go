package enums

import "fmt"

// ReturnStatus tracks a return request's review lifecycle.
type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusCompleted ReturnStatus = "completed"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusPending,
	ReturnStatusApproved,
	ReturnStatusRejected,
	ReturnStatusCompleted,
}

// String implements fmt.Stringer.
func (r ReturnStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnStatus.
func (r ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}

// ReturnReasonCategory buckets free-form return reasons for reporting.
type ReturnReasonCategory string

const (
	ReturnReasonFit           ReturnReasonCategory = "fit"
	ReturnReasonDefect        ReturnReasonCategory = "defect"
	ReturnReasonNotAsPictured ReturnReasonCategory = "not_as_pictured"
	ReturnReasonChangedMind   ReturnReasonCategory = "changed_mind"
	ReturnReasonOther         ReturnReasonCategory = "other"
)

var validReturnReasonCategories = []ReturnReasonCategory{
	ReturnReasonFit,
	ReturnReasonDefect,
	ReturnReasonNotAsPictured,
	ReturnReasonChangedMind,
	ReturnReasonOther,
}

// IsValid reports whether the value is a known ReturnReasonCategory.
func (r ReturnReasonCategory) IsValid() bool {
	for _, candidate := range validReturnReasonCategories {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReturnReasonCategory converts raw input into a ReturnReasonCategory.
func ParseReturnReasonCategory(value string) (ReturnReasonCategory, error) {
	for _, candidate := range validReturnReasonCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return reason category %q", value)
}
