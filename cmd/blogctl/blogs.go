package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/publish"
)

func newBlogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blogs",
		Short: "List registered blogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			blogs, err := e.store.Blogs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range blogs {
				fmt.Fprintf(out, "%s\t%d\t%d\n", b.Subdomain, b.OwnerID, b.Posts)
			}
			return nil
		},
	}
}

func newPostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posts <owner-id>",
		Short: "List an owner's post ids in publication order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid owner id %q", args[0])
			}
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			posts, err := e.store.Posts(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range posts {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <post-id>",
		Short: "Print the stored content of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			content, ok, err := e.store.PostContent(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("post %d not found", id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}

var errUnknownBlog = errors.New("no such blog")

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <subdomain>",
		Short: "Re-run the site build of a blog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := args[0]
			if !message.ValidSubdomain(sub) {
				return fmt.Errorf("invalid subdomain %q", sub)
			}
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, ok, err := e.store.Owner(cmd.Context(), sub); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("%w: %s", errUnknownBlog, sub)
			}
			p := publish.New(e.cfg)
			if err := p.Rebuild(cmd.Context(), sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %s into %s\n", sub, p.OutputDir(sub))
			return nil
		},
	}
}
