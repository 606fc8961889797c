package models

// Engagement holds the counters of a post that rewards are computed from.
type Engagement struct {
	PostID       string
	LikeCount    int64
	CommentCount int64
}

// Post is the subset of a social post the wallet core reads and updates.
type Post struct {
	ID               string
	OwnerID          string
	Tokenized        bool
	TokenMintAddress string
	Engagement
}
