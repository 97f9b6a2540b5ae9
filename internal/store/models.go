package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	Image        string
	Role         string
	PasswordHash string
	Provider     string
	ProviderID   string
	IsBanned     bool
	HideLastSeen bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == "admin"
}

type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	DeviceType   string
	IPAddress    string
	IsRevoked    bool
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

type Conversation struct {
	ID               string
	ParticipantID    string
	ParticipantName  string
	ParticipantEmail string
	ParticipantImage string
	LastMessage      string
	LastMessageAt    *time.Time
	LastMessageBy    string
	UnreadCountUser  int
	UnreadCountAdmin int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MessageEdit is one entry of a message's edit history; the content captured
// is the pre-edit content.
type MessageEdit struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderType     string
	Content        string
	IsRead         bool
	ReadAt         *time.Time
	IsEdited       bool
	EditHistory    []MessageEdit
	IsDeleted      bool
	CreatedAt      time.Time
}

type Content struct {
	ID          string
	Kind        string
	Slug        string
	Title       string
	Description string
	Body        string
	Tags        []string
	RepoURL     string
	DemoURL     string
	Published   bool
	LikeCount   int
	ShareCount  int
	ViewCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity is the engagement actor: an authenticated user or an anonymous
// device, never both.
type Identity struct {
	UserID   string
	DeviceID string
}

func (i Identity) IsUser() bool { return i.UserID != "" }

type Like struct {
	ID        string
	ContentID string
	Identity  Identity
	Count     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Reaction struct {
	ID        string
	ContentID string
	Identity  Identity
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReactionCount struct {
	Type  string
	Count int
}

type Subscriber struct {
	ID        string
	Email     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
