package store

import (
	"context"
	"fmt"
)

// Subdomain returns the subdomain owned by owner.
func (s *Store) Subdomain(ctx context.Context, owner int64) (string, bool, error) {
	sub, ok, err := lookup[string](ctx, s.db, s.q(`SELECT subdomain FROM blog_owners WHERE owner_id = ?`), owner)
	if err != nil {
		return "", false, fmt.Errorf("read owner %d: %w", owner, err)
	}
	return sub, ok, nil
}

// Owner returns the owner of subdomain.
func (s *Store) Owner(ctx context.Context, subdomain string) (int64, bool, error) {
	owner, ok, err := lookup[int64](ctx, s.db, s.q(`SELECT owner_id FROM blog_subdomains WHERE subdomain = ?`), subdomain)
	if err != nil {
		return 0, false, fmt.Errorf("read subdomain %s: %w", subdomain, err)
	}
	return owner, ok, nil
}

// Posts returns the owner's post ids in append order.
func (s *Store) Posts(ctx context.Context, owner int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT post_id FROM owner_posts WHERE owner_id = ? ORDER BY seq, post_id`), owner)
	if err != nil {
		return nil, fmt.Errorf("list posts for %d: %w", owner, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostContent returns the latest stored raw content of a post.
func (s *Store) PostContent(ctx context.Context, postID int64) (string, bool, error) {
	content, ok, err := lookup[string](ctx, s.db, s.q(`SELECT content FROM post_contents WHERE post_id = ?`), postID)
	if err != nil {
		return "", false, fmt.Errorf("read post %d: %w", postID, err)
	}
	return content, ok, nil
}

// Blog summarizes one registered blog.
type Blog struct {
	Subdomain string `json:"subdomain"`
	OwnerID   int64  `json:"owner_id"`
	Posts     int    `json:"posts"`
}

// Blogs lists every registered blog ordered by subdomain.
func (s *Store) Blogs(ctx context.Context) ([]Blog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.subdomain, b.owner_id, COUNT(p.post_id)
		FROM blog_subdomains b
		LEFT JOIN owner_posts p ON p.owner_id = b.owner_id
		GROUP BY b.subdomain, b.owner_id
		ORDER BY b.subdomain`)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()
	var blogs []Blog
	for rows.Next() {
		var b Blog
		if err := rows.Scan(&b.Subdomain, &b.OwnerID, &b.Posts); err != nil {
			return nil, err
		}
		blogs = append(blogs, b)
	}
	return blogs, rows.Err()
}
