package bot

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypertxt/blogbot/attachment"
	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/publish"
	"github.com/hypertxt/blogbot/store"
	"github.com/hypertxt/blogbot/testutil"
	"github.com/hypertxt/blogbot/zulip"
)

type fakePublisher struct {
	mu        sync.Mutex
	created   []string
	published map[int64]message.Post
	failBuild bool

	// store, when set, snapshots the owner's post index as each build starts.
	store        *store.Store
	indexAtBuild map[int64][]int64
}

func (f *fakePublisher) CreateBlog(_ context.Context, sub string, _ message.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, sub)
	if f.failBuild {
		return publish.ErrBuildFailed
	}
	return nil
}

func (f *fakePublisher) Publish(ctx context.Context, sub string, postID int64, post message.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[int64]message.Post{}
	}
	f.published[postID] = post
	if f.store != nil {
		if f.indexAtBuild == nil {
			f.indexAtBuild = map[int64][]int64{}
		}
		owner, _, err := f.store.Owner(ctx, sub)
		if err != nil {
			return err
		}
		posts, err := f.store.Posts(ctx, owner)
		if err != nil {
			return err
		}
		f.indexAtBuild[postID] = posts
	}
	if f.failBuild {
		return publish.ErrBuildFailed
	}
	return nil
}

func (f *fakePublisher) URL(sub string) string { return "https://" + sub + ".example.org" }

type fakeAttachments struct {
	refs []string
}

func (f *fakeAttachments) Resolve(_ context.Context, refs []string) []attachment.Outcome {
	f.refs = append(f.refs, refs...)
	out := make([]attachment.Outcome, 0, len(refs))
	for _, r := range refs {
		out = append(out, attachment.Outcome{Ref: r, Status: attachment.Failed, Err: errors.New("boom")})
	}
	return out
}

func newTestBot(t *testing.T) (*Bot, *store.Store, *fakePublisher) {
	t.Helper()
	database, dialect := testutil.SetupTestDB(t)
	st := store.New(database, dialect, config.ReregisterReject)
	pub := &fakePublisher{store: st}
	return &Bot{Store: st, Publisher: pub, Location: time.UTC, Mention: "@**Blog Bot**"}, st, pub
}

func dm(id, sender int64, content string) zulip.Message {
	return zulip.Message{ID: id, SenderID: sender, Content: content, Type: "private", Timestamp: 1700000000}
}

func TestCreateBlogReplies(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"created", "SUBDOMAIN: alice\nBLOG_NAME: Alice", "Created your blog at https://alice.example.org"},
		{"missing subdomain", "BLOG_NAME: Alice", "SUBDOMAIN: yourname"},
		{"bad line", "hello", "KEY: value"},
		{"invalid subdomain", "SUBDOMAIN: Alice!", "lowercase letters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newTestBot(t)
			got := b.CreateBlog(context.Background(), dm(1, 7, tt.content))
			if !strings.Contains(got, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestOwnershipFlow(t *testing.T) {
	ctx := context.Background()
	b, st, pub := newTestBot(t)
	const ownerA, ownerB = 1, 2

	if got := b.CreateBlog(ctx, dm(10, ownerA, "SUBDOMAIN: alice")); !strings.HasPrefix(got, "Created") {
		t.Fatalf("A creates alice: %q", got)
	}
	if got := b.CreateBlog(ctx, dm(11, ownerA, "SUBDOMAIN: bob")); !strings.Contains(got, "https://alice.example.org") {
		t.Errorf("A creates bob: %q, want existing blog named", got)
	}
	if got := b.CreateBlog(ctx, dm(12, ownerB, "SUBDOMAIN: alice")); !strings.Contains(got, "already taken") {
		t.Errorf("B creates alice: %q", got)
	}
	if got := b.CreateBlog(ctx, dm(13, ownerA, "SUBDOMAIN: alice")); !strings.Contains(got, "already registered") {
		t.Errorf("A re-creates alice: %q", got)
	}

	if got := b.AddPost(ctx, dm(100, ownerA, "# Hi\nbody")); !strings.Contains(got, `"Hi" published`) {
		t.Errorf("A posts: %q", got)
	}
	if got := pub.indexAtBuild[100]; !slices.Contains(got, 100) {
		t.Errorf("index at build = %v, want post 100 committed first", got)
	}
	if got := b.AddPost(ctx, dm(101, ownerB, "# Nope")); !strings.Contains(got, "don't have a blog") {
		t.Errorf("B posts: %q", got)
	}

	pub.failBuild = true
	if got := b.UpdatePost(ctx, dm(100, ownerA, "# Hi again\nbody")); !strings.Contains(got, "build failed") {
		t.Errorf("A edits with failing build: %q", got)
	}
	posts, err := st.Posts(ctx, ownerA)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0] != 100 {
		t.Errorf("posts = %v, want [100]", posts)
	}
	content, ok, err := st.PostContent(ctx, 100)
	if err != nil || !ok || content != "# Hi again\nbody" {
		t.Errorf("content = %q %v %v, want edited content kept", content, ok, err)
	}
	if p := pub.published[100]; p.Title != "Hi again" {
		t.Errorf("published title = %q", p.Title)
	}
	if _, ok, _ := st.Subdomain(ctx, ownerB); ok {
		t.Error("owner B should have no blog")
	}
}

func TestCreateBlogBuildFailureKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	b, st, pub := newTestBot(t)
	pub.failBuild = true

	got := b.CreateBlog(ctx, dm(1, 5, "SUBDOMAIN: carol"))
	if !strings.Contains(got, "registered") {
		t.Errorf("reply = %q", got)
	}
	if sub, ok, err := st.Subdomain(ctx, 5); err != nil || !ok || sub != "carol" {
		t.Errorf("Subdomain(5) = %q %v %v", sub, ok, err)
	}
}

func TestAddPostBuildFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	b, st, pub := newTestBot(t)
	b.CreateBlog(ctx, dm(1, 4, "SUBDOMAIN: finn"))
	pub.failBuild = true

	got := b.AddPost(ctx, dm(100, 4, "# Hi\nbody"))
	if !strings.Contains(got, "build failed") {
		t.Errorf("reply = %q, want build failure reported", got)
	}
	if at := pub.indexAtBuild[100]; !slices.Equal(at, []int64{100}) {
		t.Errorf("index at build = %v, want [100]", at)
	}
	posts, err := st.Posts(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(posts, []int64{100}) {
		t.Errorf("posts after failed build = %v, want [100]", posts)
	}
	if content, ok, err := st.PostContent(ctx, 100); err != nil || !ok || content != "# Hi\nbody" {
		t.Errorf("content = %q %v %v", content, ok, err)
	}
}

func TestAddPostSkipsAttachmentsWithoutBlog(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBot(t)
	att := &fakeAttachments{}
	b.Attachments = att

	got := b.AddPost(ctx, dm(2, 9, "# Pics\n![x](/user_uploads/1/a/x.png)"))
	if !strings.Contains(got, "don't have a blog") {
		t.Errorf("reply = %q", got)
	}
	if len(att.refs) != 0 {
		t.Errorf("resolved refs = %v, want none for an owner without a blog", att.refs)
	}
}

func TestAddPostFetchesAttachmentsBestEffort(t *testing.T) {
	ctx := context.Background()
	b, _, pub := newTestBot(t)
	att := &fakeAttachments{}
	b.Attachments = att

	b.CreateBlog(ctx, dm(1, 9, "SUBDOMAIN: dana"))
	got := b.AddPost(ctx, dm(2, 9, "@**Blog Bot** TITLE: Pics\n![x](/user_uploads/1/a/x.png)"))
	if !strings.Contains(got, `"Pics" published`) {
		t.Errorf("reply = %q", got)
	}
	if len(att.refs) != 1 || att.refs[0] != "/user_uploads/1/a/x.png" {
		t.Errorf("resolved refs = %v", att.refs)
	}
	if p := pub.published[2]; strings.Contains(p.Body, "@**Blog Bot**") {
		t.Errorf("mention not stripped: %q", p.Body)
	}
}

// The real pipeline against a stub build command, end to end through the bot.
func TestBotWithPipeline(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true binary not available")
	}
	ctx := context.Background()
	root := t.TempDir()
	database, dialect := testutil.SetupTestDB(t)
	pipe := publish.New(&config.Config{
		BlogRoot:   filepath.Join(root, "blogs"),
		ThemesRoot: filepath.Join(root, "themes"),
		StaticRoot: filepath.Join(root, "static"),
		BaseDomain: "example.org",
		BuildCmd:   truePath,
	})
	b := &Bot{Store: store.New(database, dialect, config.ReregisterReject), Publisher: pipe, Location: time.UTC}

	if got := b.CreateBlog(ctx, dm(1, 3, "SUBDOMAIN: erin\nBLOG_NAME: Erin")); got != "Created your blog at https://erin.example.org" {
		t.Fatalf("CreateBlog = %q", got)
	}
	b.AddPost(ctx, dm(42, 3, "# First\nhello"))
	data, err := os.ReadFile(pipe.PostPath("erin", 42))
	if err != nil {
		t.Fatalf("read post: %v", err)
	}
	if !strings.Contains(string(data), "title: First") {
		t.Errorf("post file = %q", data)
	}
}
