package diagnostics

import (
	"time"

	"github.com/google/uuid"
)

// ExceptionType is a user-experience problem reported while tracking.
type ExceptionType int

const (
	ExceptionLyingOnSurface ExceptionType = iota
	ExceptionFewDepthPoints
	ExceptionFewFeatures
	ExceptionMotionTrackInvalid
	ExceptionMovingTooFast
	ExceptionFisheyeOverExposed
	ExceptionFisheyeUnderExposed
	numExceptionTypes
)

func (t ExceptionType) String() string {
	switch t {
	case ExceptionLyingOnSurface:
		return "Device lying on surface"
	case ExceptionFewDepthPoints:
		return "Too few depth points"
	case ExceptionFewFeatures:
		return "Too few features"
	case ExceptionMotionTrackInvalid:
		return "Invalid poses in MotionTracking"
	case ExceptionMovingTooFast:
		return "Moving too fast"
	case ExceptionFisheyeOverExposed:
		return "Fisheye Camera Over Exposed"
	case ExceptionFisheyeUnderExposed:
		return "Fisheye Camera Under Exposed"
	}
	return "Unknown exception"
}

// Key is a stable identifier suitable for storage.
func (t ExceptionType) Key() string {
	switch t {
	case ExceptionLyingOnSurface:
		return "lying_on_surface"
	case ExceptionFewDepthPoints:
		return "few_depth_points"
	case ExceptionFewFeatures:
		return "few_features"
	case ExceptionMotionTrackInvalid:
		return "motion_track_invalid"
	case ExceptionMovingTooFast:
		return "moving_too_fast"
	case ExceptionFisheyeOverExposed:
		return "fisheye_over_exposed"
	case ExceptionFisheyeUnderExposed:
		return "fisheye_under_exposed"
	}
	return "unknown"
}

// ExceptionStatus is either detected or resolved.
type ExceptionStatus int

const (
	StatusDetected ExceptionStatus = iota
	StatusResolved
)

func (s ExceptionStatus) String() string {
	if s == StatusResolved {
		return "resolved"
	}
	return "detected"
}

// Exception is one detected or resolved transition.
type Exception struct {
	ID        uuid.UUID
	Type      ExceptionType
	Status    ExceptionStatus
	Timestamp float64 // device time, seconds
	Value     float64 // the measurement that triggered the transition, when there is one
	At        time.Time
}

// Message is the log line for the transition.
func (e Exception) Message() string {
	prefix := "Exception Detected: "
	if e.Status == StatusResolved {
		prefix = "Exception Resolved: "
	}
	return prefix + e.Type.String()
}

// uxState tracks which exceptions are active so that only transitions are
// reported.
type uxState struct {
	active [numExceptionTypes]bool
}

// set records the condition for t and reports whether it changed.
func (s *uxState) set(t ExceptionType, active bool) (ExceptionStatus, bool) {
	if s.active[t] == active {
		return 0, false
	}
	s.active[t] = active
	if active {
		return StatusDetected, true
	}
	return StatusResolved, true
}

func (s *uxState) list() []ExceptionType {
	var out []ExceptionType
	for t, on := range s.active {
		if on {
			out = append(out, ExceptionType(t))
		}
	}
	return out
}
