package domain

// Task statuses. pending_verification belongs to the deprecated two-phase
// flow; cancelled is a defined terminal state with no triggering operation yet.
const (
	StatusOpen                = "open"
	StatusInProgress          = "in_progress"
	StatusPendingApproval     = "pending_approval"
	StatusPendingVerification = "pending_verification"
	StatusCompleted           = "completed"
	StatusCancelled           = "cancelled"
)

// Classification placeholders written before and after an oracle pass.
const (
	ClassPending = "Analysing"
	ClassError   = "ERROR"
)

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Points       int    `json:"points"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// PublicUser is the safe projection embedded in feed and leaderboard
// responses. Never expose email or the credential hash there.
type PublicUser struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

func (u User) Public() PublicUser {
	return PublicUser{Username: u.Username, Points: u.Points}
}

type Task struct {
	ID            string   `json:"id"`
	AuthorID      string   `json:"author_id"`
	ImageURL      string   `json:"image_url"`
	ImagePublicID string   `json:"image_public_id,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`

	PredictedClass string `json:"predicted_class,omitempty"`
	Points         int    `json:"points"`
	VerifiedPoints *int   `json:"verified_points,omitempty"`

	Status      string  `json:"status" enum:"open,in_progress,pending_approval,pending_verification,completed,cancelled"`
	VolunteerID *string `json:"volunteer_id,omitempty"`
	// ResolvedByID is the single-phase claimant, superseded by VolunteerID.
	ResolvedByID *string `json:"resolved_by_id,omitempty"`

	StartImageURL          *string `json:"start_image_url,omitempty"`
	EndImageURL            *string `json:"end_image_url,omitempty"`
	ProofImageURL          *string `json:"proof_image_url,omitempty"`
	StartedAt              *string `json:"started_at,omitempty" format:"date-time"`
	EndedAt                *string `json:"ended_at,omitempty" format:"date-time"`
	CleanupDurationMinutes *int    `json:"cleanup_duration_minutes,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`

	Author    *PublicUser `json:"author,omitempty"`
	Volunteer *PublicUser `json:"volunteer,omitempty"`
	Comments  []Comment   `json:"comments"`
	Likes     []Like      `json:"likes"`
}

type Comment struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	AuthorID  string      `json:"author_id"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	Author    *PublicUser `json:"author,omitempty"`
}

type Like struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
