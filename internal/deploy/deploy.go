package deploy

// Target kinds a deployment can attach to.
const (
	TargetSpace   = "space"
	TargetProfile = "profile"
)

// StatusActive is the only status under which a deployment accepts
// interactions.
const StatusActive = "active"

// FlatCollection is the top-level collection of flat deployment
// records, keyed by deployment id.
const FlatCollection = "deployments"

// LegacyStateCollection is the flat collection older clients write tool
// state to, keyed by "<deploymentID>__<userID>".
const LegacyStateCollection = "tool_state"

// Deployment is a placement record. The same shape backs both the flat
// deployments collection and placement documents nested under a surface;
// nested placements may embed a snapshot of their flat record in Base,
// which resolution folds in underneath the placement's own fields.
type Deployment struct {
	ID           string      `json:"id,omitempty"`
	Status       string      `json:"status,omitempty"`
	ToolID       string      `json:"toolId,omitempty"`
	TargetKind   string      `json:"targetKind,omitempty"`
	TargetID     string      `json:"targetId,omitempty"`
	DeploymentID string      `json:"deploymentId,omitempty"`
	Policy       Policy      `json:"policy,omitempty"`
	Settings     Settings    `json:"settings,omitempty"`
	Stats        Stats       `json:"stats,omitempty"`
	UsageCount   int64       `json:"usageCount,omitempty"`
	CreatedAt    int64       `json:"createdAt,omitempty"`
	Base         *Deployment `json:"deployment,omitempty"`
}

// Policy controls who may interact with a deployment. A nil CanInteract
// means interaction is allowed; only an explicit false disables it. An
// empty AllowedRoles list places no role restriction.
type Policy struct {
	CanInteract  *bool    `json:"canInteract,omitempty"`
	AllowedRoles []string `json:"allowedRoles,omitempty"`
}

// Settings holds per-deployment behavior switches. AutoPost is tri-state
// so a placement can override its base record in either direction.
type Settings struct {
	AutoPost *bool `json:"autoPost,omitempty"`
}

// Stats tracks execution bookkeeping on the deployment record.
type Stats struct {
	Executions int64 `json:"executions,omitempty"`
	LastUsedAt int64 `json:"lastUsedAt,omitempty"`
}

// Active reports whether the deployment accepts interactions.
func (d *Deployment) Active() bool {
	return d.Status == StatusActive
}

// normalize folds an embedded base snapshot into the placement record so
// callers see a single effective deployment. Placement fields win; the
// base fills whatever the placement leaves unset.
func (d *Deployment) normalize() {
	if d.Base == nil {
		return
	}
	b := d.Base
	if d.Status == "" {
		d.Status = b.Status
	}
	if d.ToolID == "" {
		d.ToolID = b.ToolID
	}
	if d.DeploymentID == "" {
		d.DeploymentID = b.ID
	}
	d.Policy = overlayPolicy(b.Policy, d.Policy)
	if d.Settings.AutoPost == nil {
		d.Settings.AutoPost = b.Settings.AutoPost
	}
	d.Base = nil
}

// overlayPolicy applies the placement-level policy on top of the
// deployment-level one, field by field.
func overlayPolicy(base, over Policy) Policy {
	out := base
	if over.CanInteract != nil {
		out.CanInteract = over.CanInteract
	}
	if len(over.AllowedRoles) > 0 {
		out.AllowedRoles = over.AllowedRoles
	}
	return out
}
