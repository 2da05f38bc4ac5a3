package board

import (
	"time"

	"leaderlite/cmd/internal/request"
	"leaderlite/cmd/member"
)

type leaderboardEntry struct {
	Rank     int    `json:"rank"`
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Points   int    `json:"points"`
}

type leaderboardResponse struct {
	Entries []leaderboardEntry `json:"entries"`
}

type submitRequestBody struct {
	Description string `json:"description"`
	Points      int    `json:"points"`
}

type requestResponse struct {
	ID          string     `json:"id"`
	MemberID    string     `json:"member_id"`
	MemberName  string     `json:"member_name"`
	Description string     `json:"description"`
	Points      int        `json:"points"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

type requestListResponse struct {
	Requests []requestResponse `json:"requests"`
}

func toLeaderboard(members []member.Member) leaderboardResponse {
	entries := make([]leaderboardEntry, 0, len(members))
	for i, m := range members {
		entries = append(entries, leaderboardEntry{
			Rank:     i + 1,
			MemberID: m.ID,
			Name:     m.Name,
			Points:   m.Points,
		})
	}
	return leaderboardResponse{Entries: entries}
}

func toRequestResponse(r request.Request) requestResponse {
	return requestResponse{
		ID:          r.ID,
		MemberID:    r.MemberID,
		MemberName:  r.MemberName,
		Description: r.Description,
		Points:      r.Points,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		DecidedAt:   r.DecidedAt,
	}
}

func toRequestList(rs []request.Request) requestListResponse {
	out := make([]requestResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestResponse(r))
	}
	return requestListResponse{Requests: out}
}
