package session

import "time"

const (
	// KeyPrefix is the KV namespace for session records.
	KeyPrefix = "tryon:session:"
	// RestoreKeyPrefix is the KV namespace for restoration-token mappings.
	RestoreKeyPrefix = "tryon:restore:"
)

// Session statuses. The stored status is a cached hint; the authoritative
// liveness check is always now < ExpiresAt.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusDeleted = "deleted"
)

// Photo categories.
const (
	CategoryUser      = "user"
	CategoryGarment   = "garment"
	CategoryGenerated = "generated"
)

// PhotoRef points at an uploaded or generated image in the object store.
// Insertion order is meaningful (front, side, back).
type PhotoRef struct {
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Type         string    `json:"type"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Session is the ephemeral try-on session record persisted in the KV store.
type Session struct {
	ID               string     `json:"sessionId"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	Status           string     `json:"status"`
	UserPhotos       []PhotoRef `json:"userPhotos"`
	GarmentPhotos    []PhotoRef `json:"garmentPhotos"`
	GeneratedPhotos  []PhotoRef `json:"generatedPhotos,omitempty"`
	RestorationToken string     `json:"restorationToken,omitempty"`
	LastActivityAt   *time.Time `json:"lastActivityAt,omitempty"`
}

// UpdateDTO is a partial session mutation. Photo slices append to the
// stored lists rather than replacing them.
type UpdateDTO struct {
	UserPhotos    []PhotoRef `json:"userPhotos"`
	GarmentPhotos []PhotoRef `json:"garmentPhotos"`
}

// ExtendDTO carries the explicit extension request body.
type ExtendDTO struct {
	AdditionalSeconds int `json:"additionalSeconds" binding:"required,min=1"`
}

type sessionResponse struct {
	SessionID       string     `json:"sessionId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	Status          string     `json:"status"`
	UserPhotos      []PhotoRef `json:"userPhotos"`
	GarmentPhotos   []PhotoRef `json:"garmentPhotos"`
	GeneratedPhotos []PhotoRef `json:"generatedPhotos,omitempty"`
	LastActivityAt  *time.Time `json:"lastActivityAt,omitempty"`
}

func toResponse(s *Session) sessionResponse {
	userPhotos := s.UserPhotos
	if userPhotos == nil {
		userPhotos = []PhotoRef{}
	}
	garmentPhotos := s.GarmentPhotos
	if garmentPhotos == nil {
		garmentPhotos = []PhotoRef{}
	}
	return sessionResponse{
		SessionID:       s.ID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		ExpiresAt:       s.ExpiresAt,
		Status:          s.Status,
		UserPhotos:      userPhotos,
		GarmentPhotos:   garmentPhotos,
		GeneratedPhotos: s.GeneratedPhotos,
		LastActivityAt:  s.LastActivityAt,
	}
}
