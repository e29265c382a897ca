package feed

import (
	"strconv"
	"time"

	"amplifi/internal/dbmysql"
)

// SamplePosts is what an empty feed shows so a fresh install is not blank.
func SamplePosts(now time.Time) []*dbmysql.Post {
	type sample struct {
		author, caption, image string
		likes, comments, views int64
	}
	samples := []sample{
		{"Amplifi Team", "Welcome to Amplifi! Try the comment button below.", "3183150", 42, 5, 1234},
		{"Test User", "This post is here for testing comments. Leave one!", "3183153", 18, 2, 567},
		{"Demo Creator", "Explore live streaming, tips and the creator store.", "3183156", 89, 12, 2345},
		{"Stream Master", "Tips for running engaging live streams.", "3183159", 156, 8, 3456},
		{"Music Curator", "Discover copyright-free tracks for your streams.", "3183162", 234, 15, 4567},
	}

	posts := make([]*dbmysql.Post, 0, len(samples))
	for i, s := range samples {
		posts = append(posts, &dbmysql.Post{
			ID:            "sample-post-" + strconv.Itoa(i+1),
			AuthorID:      "sample-user-" + strconv.Itoa(i+1),
			AuthorName:    s.author,
			AuthorPic:     "default-avatar.svg",
			Caption:       s.caption,
			MediaType:     "image",
			MediaURL:      "https://images.pexels.com/photos/" + s.image + "/pexels-photo-" + s.image + ".jpeg?auto=compress&cs=tinysrgb&w=1260&h=750&dpr=1",
			LikesCount:    s.likes,
			CommentsCount: s.comments,
			ViewsCount:    s.views,
			Status:        dbmysql.PostStatusPublished,
			Kind:          dbmysql.PostKindPost,
			CreatedAt:     now.Add(-time.Duration(i+1) * time.Hour),
			Sample:        true,
		})
	}
	return posts
}
