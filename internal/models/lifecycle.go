package models

// Content item lifecycle statuses. A content item is created as a draft, goes
// through review, and is advanced to scheduled/posted exclusively by the
// publish orchestrator.
const (
	ContentStatusDraft           = "draft"
	ContentStatusPendingApproval = "pending_approval"
	ContentStatusApproved        = "approved"
	ContentStatusRejected        = "rejected"
	ContentStatusScheduled       = "scheduled"
	ContentStatusPosted          = "posted"
	ContentStatusFailed          = "failed"
)

// Per-platform schedule entry statuses.
const (
	EntryStatusQueued  = "queued"
	EntryStatusPosting = "posting"
	EntryStatusPosted  = "posted"
	EntryStatusFailed  = "failed"
)

// Content types supported by the generation/upload flow.
const (
	ContentTypeImagePost = "image-post"
	ContentTypeVideo     = "video"
	ContentTypeCarousel  = "carousel"
	ContentTypeText      = "text"
)

func IsValidContentType(v string) bool {
	switch v {
	case ContentTypeImagePost, ContentTypeVideo, ContentTypeCarousel, ContentTypeText:
		return true
	default:
		return false
	}
}

func IsValidPlatform(v string) bool {
	switch v {
	case "facebook", "instagram", "tiktok", "youtube", "pinterest", "twitter", "threads":
		return true
	default:
		return false
	}
}

var contentTransitions = map[string]map[string]bool{
	ContentStatusDraft:           {ContentStatusPendingApproval: true},
	ContentStatusPendingApproval: {ContentStatusApproved: true, ContentStatusRejected: true},
	ContentStatusRejected:        {ContentStatusDraft: true},
	ContentStatusApproved:        {ContentStatusScheduled: true, ContentStatusPosted: true},
	ContentStatusScheduled:       {ContentStatusPosted: true},
}

// CanTransition reports whether moving a content item from one status to
// another is legal. Invalid transitions must be rejected by callers, never
// silently coerced. Any non-terminal status may reach failed (a wholly failed
// publish attempt); posted and failed are terminal.
func CanTransition(from, to string) bool {
	if to == ContentStatusFailed {
		return from != ContentStatusPosted && from != ContentStatusFailed
	}
	return contentTransitions[from][to]
}
