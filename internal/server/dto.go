package server

import (
	"cleanline/internal/domain"
	"cleanline/internal/repo"
)

// Request payloads

type RegisterRequest struct {
	Username string `json:"username" minLength:"3" maxLength:"32"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateTaskRequest struct {
	ImageURL      string   `json:"image_url" format:"uri"`
	ImagePublicID string   `json:"image_public_id,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type StartWorkRequest struct {
	StartImageURL string `json:"start_image_url" format:"uri"`
}

type ProofRequest struct {
	EndImageURL string `json:"end_image_url" format:"uri"`
}

type ApproveRequest struct {
	FinalPoints int `json:"final_points"`
}

type ResolveRequest struct {
	ProofImageURL string `json:"proof_image_url" format:"uri"`
}

type UpdateTaskRequest struct {
	PredictedClass *string `json:"predicted_class,omitempty"`
	Points         *int    `json:"points,omitempty"`
	Caption        *string `json:"caption,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content" minLength:"1"`
}

// Response payloads

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type UserStatsResponse struct {
	Username     string        `json:"username"`
	Points       int           `json:"points"`
	TasksCreated int           `json:"tasks_created"`
	TasksSolved  int           `json:"tasks_solved"`
	Created      []domain.Task `json:"created"`
	Solved       []domain.Task `json:"solved"`
}

func statsResponse(u domain.User, s repo.UserStats, created, solved []domain.Task) UserStatsResponse {
	if created == nil {
		created = []domain.Task{}
	}
	if solved == nil {
		solved = []domain.Task{}
	}
	return UserStatsResponse{
		Username:     u.Username,
		Points:       u.Points,
		TasksCreated: s.Created,
		TasksSolved:  s.Solved,
		Created:      created,
		Solved:       solved,
	}
}

func publicUsers(users []domain.User) []domain.PublicUser {
	res := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		res = append(res, u.Public())
	}
	return res
}
