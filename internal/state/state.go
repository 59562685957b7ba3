package state

// Kind discriminator values carried in the JSON "kind" field.
const (
	KindSubmission   = "submission"
	KindPoll         = "poll"
	KindCounter      = "counter"
	KindToggle       = "toggle"
	KindFields       = "fields"
	KindSelection    = "selection"
	KindRSVP         = "rsvp"
	KindTimer        = "timer"
	KindSearch       = "search"
	KindLeaderboard  = "leaderboard"
	KindMarker       = "marker"
	KindNotices      = "notices"
	KindAnnouncement = "announcement"
	KindCustom       = "custom"
	KindUnknown      = "unknown"
)

// Value is a sealed interface over the state variants. Only the types in
// this package implement it; Generic is the escape hatch for kinds this
// build does not know.
type Value interface {
	Kind() string
	stateValue() // sealed
}

// Submission marks that the user has submitted through an element, with
// the captured values and the id of the durable submission record.
type Submission struct {
	Submitted    bool           `json:"submitted"`
	SubmissionID string         `json:"submissionId,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
	SubmittedAt  int64          `json:"submittedAt"`
}

func (Submission) Kind() string { return KindSubmission }
func (Submission) stateValue()  {}

// Poll holds shared vote tallies plus enough per-user bookkeeping to
// support vote changes. Votes and VotedBy are aggregate across users;
// Choices records each voter's current option so a revote can decrement
// the old tally.
type Poll struct {
	Votes     map[string]int64  `json:"votes"`
	VotedBy   []string          `json:"votedBy"`
	Choices   map[string]string `json:"choices,omitempty"`
	UpdatedAt int64             `json:"updatedAt,omitempty"`
}

func (Poll) Kind() string { return KindPoll }
func (Poll) stateValue()  {}

// Counter is a clamped running count. Count never goes below zero.
type Counter struct {
	Count     int64 `json:"count"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

func (Counter) Kind() string { return KindCounter }
func (Counter) stateValue()  {}

// Toggle is a boolean flip. Toggling twice restores the prior value.
type Toggle struct {
	On        bool  `json:"on"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

func (Toggle) Kind() string { return KindToggle }
func (Toggle) stateValue()  {}

// Fields captures keyed form/input values. A later write merges over the
// keys it carries and keeps the rest.
type Fields struct {
	Values    map[string]any `json:"values"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
}

func (Fields) Kind() string { return KindFields }
func (Fields) stateValue()  {}

// Selection records single- or multi-select choices.
type Selection struct {
	Selected  []string `json:"selected"`
	Multi     bool     `json:"multi,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

func (Selection) Kind() string { return KindSelection }
func (Selection) stateValue()  {}

// RSVP tracks each user's reply status, keyed by user id.
type RSVP struct {
	Statuses  map[string]string `json:"statuses"`
	UpdatedAt int64             `json:"updatedAt,omitempty"`
}

func (RSVP) Kind() string { return KindRSVP }
func (RSVP) stateValue()  {}

// Timer accumulates elapsed time across stop/resume cycles. While running,
// StartedAt holds the start of the current segment; ElapsedMS holds the
// total of all completed segments. Laps snapshot the total at lap time.
type Timer struct {
	Running   bool    `json:"running"`
	StartedAt int64   `json:"startedAt,omitempty"`
	ElapsedMS int64   `json:"elapsedMs"`
	Laps      []int64 `json:"laps,omitempty"`
	UpdatedAt int64   `json:"updatedAt,omitempty"`
}

func (Timer) Kind() string { return KindTimer }
func (Timer) stateValue()  {}

// Search snapshots the user's last query and filters.
type Search struct {
	Query     string         `json:"query"`
	Filters   map[string]any `json:"filters,omitempty"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
}

func (Search) Kind() string { return KindSearch }
func (Search) stateValue()  {}

// Leaderboard holds per-user scores. Scores never go below zero.
type Leaderboard struct {
	Scores    map[string]int64 `json:"scores"`
	UpdatedAt int64            `json:"updatedAt,omitempty"`
}

func (Leaderboard) Kind() string { return KindLeaderboard }
func (Leaderboard) stateValue()  {}

// Marker records a map marker selection.
type Marker struct {
	SelectedID string  `json:"selectedId"`
	Label      string  `json:"label,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
	UpdatedAt  int64   `json:"updatedAt,omitempty"`
}

func (Marker) Kind() string { return KindMarker }
func (Marker) stateValue()  {}

// Notices tracks which notice ids the user has dismissed or read.
type Notices struct {
	Dismissed []string `json:"dismissed,omitempty"`
	Read      []string `json:"read,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

func (Notices) Kind() string { return KindNotices }
func (Notices) stateValue()  {}

// Announcement holds the current announcement and who dismissed it.
type Announcement struct {
	Message     string   `json:"message"`
	SentBy      string   `json:"sentBy,omitempty"`
	SentAt      int64    `json:"sentAt,omitempty"`
	DismissedBy []string `json:"dismissedBy,omitempty"`
}

func (Announcement) Kind() string { return KindAnnouncement }
func (Announcement) stateValue()  {}

// Custom marks execution of an element-declared custom action.
type Custom struct {
	Action     string         `json:"action"`
	Data       map[string]any `json:"data,omitempty"`
	ExecutedAt int64          `json:"executedAt"`
}

func (Custom) Kind() string { return KindCustom }
func (Custom) stateValue()  {}

// Unknown marks execution of an action no handler or element claimed.
// Recorded rather than rejected so new element types can lag handler
// coverage without breaking clients.
type Unknown struct {
	Action     string `json:"action"`
	ExecutedAt int64  `json:"executedAt"`
}

func (Unknown) Kind() string { return KindUnknown }
func (Unknown) stateValue()  {}

// Generic carries a state value whose kind this build does not recognize,
// preserved as decoded so it round-trips through load/merge/store. The
// original "kind" field stays inside the map.
type Generic map[string]any

func (g Generic) Kind() string {
	k, _ := g["kind"].(string)
	return k
}
func (Generic) stateValue() {}
