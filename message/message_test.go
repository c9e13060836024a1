package message

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestExtractUploadRefs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "markdown image",
			text: "![alt text](/user_uploads/13/SJXAkls4A6mqvoVyWpeciPlO/DSC_0583.png)",
			want: []string{"/user_uploads/13/SJXAkls4A6mqvoVyWpeciPlO/DSC_0583.png"},
		},
		{
			name: "markdown link",
			text: "[click here](/user_uploads/13/abc123/file.pdf)",
			want: []string{"/user_uploads/13/abc123/file.pdf"},
		},
		{
			name: "html img tag",
			text: `<img src="/user_uploads/42/xyz789/image.jpg">`,
			want: []string{"/user_uploads/42/xyz789/image.jpg"},
		},
		{
			name: "two on one line",
			text: "![a](/user_uploads/1/x/f.png) and ![b](/user_uploads/2/y/g.jpg)",
			want: []string{"/user_uploads/1/x/f.png", "/user_uploads/2/y/g.jpg"},
		},
		{
			name: "across lines",
			text: "\n# My Post\n\nHere is an image: ![photo](/user_uploads/13/abc/photo.png)\n\n" +
				"And a link: [document](/user_uploads/14/def/doc.pdf)\n\n" +
				"And another: <img src=\"/user_uploads/15/ghi/banner.jpg\">\n",
			want: []string{
				"/user_uploads/13/abc/photo.png",
				"/user_uploads/14/def/doc.pdf",
				"/user_uploads/15/ghi/banner.jpg",
			},
		},
		{
			name: "bare path",
			text: "/user_uploads/20/xyz/doc.txt",
			want: []string{"/user_uploads/20/xyz/doc.txt"},
		},
		{
			name: "bare path at end of line",
			text: "Check out this file: /user_uploads/20/xyz/document.txt",
			want: []string{"/user_uploads/20/xyz/document.txt"},
		},
		{
			name: "trailing whitespace",
			text: "![image](/user_uploads/30/abc/image.png) ",
			want: []string{"/user_uploads/30/abc/image.png"},
		},
		{
			name: "hyphenated file name",
			text: "![image](/user_uploads/13/SJX/DSC_0583-edited.png)",
			want: []string{"/user_uploads/13/SJX/DSC_0583-edited.png"},
		},
		{
			name: "mixed with external images",
			text: "Post with [a link](/user_uploads/1/a/file.pdf) and text.\n" +
				"External ![image](https://example.com/pic.jpg) and internal ![image](/user_uploads/2/b/pic2.png).",
			want: []string{"/user_uploads/1/a/file.pdf", "/user_uploads/2/b/pic2.png"},
		},
		{
			name: "no uploads",
			text: "# Blog Post\n\nNo uploads here.\n![external](https://example.com/image.png)",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractUploadRefs(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractUploadRefs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Metadata
		wantErr error
	}{
		{
			name: "subdomain and name",
			text: "SUBDOMAIN: alice\nBLOG_NAME: Alice's Blog",
			want: Metadata{"SUBDOMAIN": "alice", "BLOG_NAME": "Alice's Blog"},
		},
		{
			name: "value containing separator",
			text: "SUBDOMAIN: alice\nBLOG_NAME: Notes: volume 2\nAUTHOR: Alice",
			want: Metadata{"SUBDOMAIN": "alice", "BLOG_NAME": "Notes: volume 2", "AUTHOR": "Alice"},
		},
		{
			name: "trailing newline",
			text: "SUBDOMAIN: alice\n",
			want: Metadata{"SUBDOMAIN": "alice"},
		},
		{
			name:    "line without separator",
			text:    "SUBDOMAIN: alice\nhello there",
			wantErr: ErrInvalidLine,
		},
		{
			name:    "missing subdomain",
			text:    "BLOG_NAME: Alice's Blog\nAUTHOR: Alice",
			wantErr: ErrMissingField,
		},
		{
			name:    "empty",
			text:    "",
			wantErr: ErrMissingField,
		},
		{
			name:    "uppercase subdomain",
			text:    "SUBDOMAIN: Alice",
			wantErr: ErrInvalidSubdomain,
		},
		{
			name:    "path traversal",
			text:    "SUBDOMAIN: ../etc",
			wantErr: ErrInvalidSubdomain,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetadata(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseMetadata() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMetadata() unexpected error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMetadata() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataAccessors(t *testing.T) {
	m, err := ParseMetadata("SUBDOMAIN: bob\nBLOG_NAME: Bob Writes\nAUTHOR: Bob")
	if err != nil {
		t.Fatal(err)
	}
	if m.Subdomain() != "bob" || m.BlogName() != "Bob Writes" || m.Author() != "Bob" {
		t.Errorf("accessors = %q %q %q", m.Subdomain(), m.BlogName(), m.Author())
	}
}

func TestValidSubdomain(t *testing.T) {
	for s, want := range map[string]bool{
		"alice":                 true,
		"a1-b2":                 true,
		"-alice":                false,
		"alice-":                false,
		"":                      false,
		"al.ice":                false,
		"al ice":                false,
		strings.Repeat("a", 64): false,
		strings.Repeat("a", 63): true,
	} {
		if got := ValidSubdomain(s); got != want {
			t.Errorf("ValidSubdomain(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParsePost(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 2024-03-01 03:00 UTC is still Feb 29 in New York.
	ts := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC).Unix()
	const mention = "@**Blog Bot (HyperTXT)**"

	tests := []struct {
		name      string
		text      string
		wantTitle string
		wantBody  string
		wantRefs  []string
	}{
		{
			name:      "heading title",
			text:      "# Hello\nfirst paragraph",
			wantTitle: "Hello",
			wantBody:  "first paragraph",
		},
		{
			name:      "title prefix",
			text:      "intro\nTITLE: Field Notes\nbody",
			wantTitle: "Field Notes",
			wantBody:  "intro\nbody",
		},
		{
			name:      "heading beats later title line",
			text:      "# Heading\nTITLE: Other\ntext",
			wantTitle: "Heading",
			wantBody:  "TITLE: Other\ntext",
		},
		{
			name:      "first match by line order",
			text:      "TITLE: First\n# Second",
			wantTitle: "First",
			wantBody:  "# Second",
		},
		{
			name:      "empty heading ignored",
			text:      "# \nTITLE: Real",
			wantTitle: "Real",
			wantBody:  "#",
		},
		{
			name:      "date fallback in local zone",
			text:      "just some words",
			wantTitle: "2024-02-29",
			wantBody:  "just some words",
		},
		{
			name:      "untitled body trimmed",
			text:      "\n  just some words  \n",
			wantTitle: "2024-02-29",
			wantBody:  "just some words",
		},
		{
			name:      "mention stripped",
			text:      mention + " # Not a heading\n# Trip\nwent ![p](/user_uploads/1/a/p.png)",
			wantTitle: "Trip",
			wantBody:  "# Not a heading\nwent ![p](/user_uploads/1/a/p.png)",
			wantRefs:  []string{"/user_uploads/1/a/p.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePost(tt.text, ts, ny, mention)
			if p.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", p.Title, tt.wantTitle)
			}
			if p.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", p.Body, tt.wantBody)
			}
			if !reflect.DeepEqual(p.AttachmentRefs, tt.wantRefs) {
				t.Errorf("AttachmentRefs = %q, want %q", p.AttachmentRefs, tt.wantRefs)
			}
			if p.Date.Location() != ny {
				t.Errorf("Date location = %v, want America/New_York", p.Date.Location())
			}
		})
	}
}
