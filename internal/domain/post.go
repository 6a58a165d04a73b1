package domain

import "errors"

// ErrNoPosts is returned when a decoded payload carries no posts.
var ErrNoPosts = errors.New("content payload contains no posts")

// Post is one article captured by the browser plugin.
type Post struct {
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle"`
	OrigAuthor string `json:"orig_author"`
	Content    string `json:"content"`
	URL        string `json:"url,omitempty"`
}

// Content is the decoded submission payload.
type Content struct {
	Posts []Post `json:"posts"`
}

// Last returns the final post, which carries the book-level subtitle and author.
func (c Content) Last() (Post, error) {
	if len(c.Posts) == 0 {
		return Post{}, ErrNoPosts
	}
	return c.Posts[len(c.Posts)-1], nil
}
