package sink

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
)

// Collections the typed sinks write to.
const (
	AnalyticsCollection     = "analytics_events"
	NotificationsCollection = "notifications"
	ExecutionsCollection    = "executions"
)

// Event is one analytics record for an execution attempt.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	DeploymentID string         `json:"deploymentId"`
	ToolID       string         `json:"toolId,omitempty"`
	UserID       string         `json:"userId"`
	Action       string         `json:"action"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	At           int64          `json:"at"`
	Data         map[string]any `json:"data,omitempty"`
}

// Notification is one outbound notification document.
type Notification struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Kind         string `json:"kind,omitempty"`
	Title        string `json:"title,omitempty"`
	Message      string `json:"message"`
	DeploymentID string `json:"deploymentId,omitempty"`
	At           int64  `json:"at"`
}

// AuditRecord is the durable trail of one completed invocation, keyed
// by its execution id.
type AuditRecord struct {
	ID           string   `json:"id"`
	DeploymentID string   `json:"deploymentId"`
	ToolID       string   `json:"toolId,omitempty"`
	UserID       string   `json:"userId"`
	Action       string   `json:"action"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	Cascaded     []string `json:"cascaded,omitempty"`
	At           int64    `json:"at"`
}

// FeedPost is one auto-published post, filed under the surface the
// deployment targets.
type FeedPost struct {
	ID           string `json:"id"`
	TargetKind   string `json:"targetKind"`
	TargetID     string `json:"targetId"`
	DeploymentID string `json:"deploymentId"`
	ToolID       string `json:"toolId,omitempty"`
	AuthorID     string `json:"authorId"`
	Kind         string `json:"kind,omitempty"`
	Title        string `json:"title,omitempty"`
	Body         string `json:"body,omitempty"`
	At           int64  `json:"at"`
}

func (p FeedPost) collection() string {
	if p.TargetKind == deploy.TargetProfile {
		return docstore.NewRef("profiles", p.TargetID).Child("feed")
	}
	return docstore.NewRef("spaces", p.TargetID).Child("feed")
}

// Sinks bundles the side-effect writers. Each writer carries its own
// breaker, so one failing collection does not silence the others.
type Sinks struct {
	Analytics     *Writer
	Notifications *Writer
	Feed          *Writer
	Audit         *Writer
}

// New returns sinks writing to store. A nil logger falls back to
// slog.Default.
func New(store docstore.Store, logger *slog.Logger) *Sinks {
	return &Sinks{
		Analytics:     NewWriter("analytics", store, logger),
		Notifications: NewWriter("notifications", store, logger),
		Feed:          NewWriter("feed", store, logger),
		Audit:         NewWriter("audit", store, logger),
	}
}

// RecordExecution files an analytics event. A missing id is filled in.
func (s *Sinks) RecordExecution(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.Analytics.Write(ctx, docstore.NewRef(AnalyticsCollection, ev.ID), ev)
}

// RecordAudit files the invocation's audit trail document. A missing id
// is filled in.
func (s *Sinks) RecordAudit(ctx context.Context, rec AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.Audit.Write(ctx, docstore.NewRef(ExecutionsCollection, rec.ID), rec)
}

// Notify files one notification document. A missing id is filled in.
func (s *Sinks) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.Notifications.Write(ctx, docstore.NewRef(NotificationsCollection, n.ID), n)
}

// PublishFeed files a feed post under the target surface. A missing id
// is filled in.
func (s *Sinks) PublishFeed(ctx context.Context, p FeedPost) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.Feed.Write(ctx, docstore.NewRef(p.collection(), p.ID), p)
}
