package models

import "time"

type Client struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	ExternalRef          string     `json:"externalRef"`
	PlanTier             *string    `json:"planTier,omitempty"`
	PostsCreatedToday    *int       `json:"postsCreatedToday,omitempty"`
	UsageResetDate       *time.Time `json:"usageResetDate,omitempty"`
	StripeCustomerID     *string    `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string    `json:"stripeSubscriptionId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

type ContentItem struct {
	ID               string     `json:"id"`
	ClientID         string     `json:"clientId"`
	Status           string     `json:"status"`
	Caption          string     `json:"caption"`
	CaptionShort     *string    `json:"captionShort,omitempty"`
	Hashtags         *string    `json:"hashtags,omitempty"`
	CallToAction     *string    `json:"callToAction,omitempty"`
	ContentType      string     `json:"contentType"`
	TargetPlatforms  []string   `json:"targetPlatforms"`
	PrimaryMediaURL  *string    `json:"primaryMediaUrl,omitempty"`
	MediaURLs        []string   `json:"mediaUrls"`
	RejectionReason  *string    `json:"rejectionReason,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy       *string    `json:"approvedBy,omitempty"`
	LastSubmissionID *string    `json:"lastSubmissionId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type PlatformAccount struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"clientId"`
	Platform          string    `json:"platform"`
	ProviderAccountID string    `json:"providerAccountId"`
	IsActive          bool      `json:"isActive"`
	ConnectedAt       time.Time `json:"connectedAt"`
}

type ScheduleEntry struct {
	ID             string     `json:"id"`
	ContentID      string     `json:"contentId"`
	ClientID       string     `json:"clientId"`
	Platform       string     `json:"platform"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	Status         string     `json:"status"`
	ProviderPostID string     `json:"providerPostId"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
