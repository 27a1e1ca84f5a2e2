package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bryan-buckman/storyline/internal/database"
	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/model"
	"github.com/bryan-buckman/storyline/internal/opml"
	"github.com/bryan-buckman/storyline/internal/server"
)

type previewCommand struct {
	app  *App
	Args struct {
		URL string `positional-arg-name:"url" description:"Feed URL or file path"`
	} `positional-args:"yes" required:"yes"`
}

func (c *previewCommand) Execute([]string) error {
	if err := c.app.setupPipeline(); err != nil {
		return err
	}
	feed, err := c.app.pipeline.FetchAndParse(c.app.ctx, c.Args.URL)
	if err != nil {
		return err
	}
	printFeed(c.app.out, feed)
	for i := range feed.Stories {
		fmt.Fprintln(c.app.out)
		printStory(c.app.out, &feed.Stories[i])
	}
	return nil
}

type lookupCommand struct {
	app  *App
	Args struct {
		URL   string `positional-arg-name:"url" description:"Feed URL or file path"`
		Title string `positional-arg-name:"title" description:"Exact story title"`
	} `positional-args:"yes" required:"yes"`
}

func (c *lookupCommand) Execute([]string) error {
	if err := c.app.setupPipeline(); err != nil {
		return err
	}
	story, ok, err := c.app.pipeline.FetchStoryByTitle(c.app.ctx, c.Args.URL, c.Args.Title)
	if err != nil {
		return err
	}
	if !ok {
		return feederr.Newf(feederr.NotFound, "lookup", "no story titled %q", c.Args.Title)
	}
	printStory(c.app.out, story)
	return nil
}

type subscribeCommand struct {
	app  *App
	Args struct {
		URL string `positional-arg-name:"url" description:"Feed URL or file path"`
	} `positional-args:"yes" required:"yes"`
}

func (c *subscribeCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	feed, created, err := c.app.fetcher.Subscribe(c.app.ctx, c.Args.URL)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(c.app.out, "already subscribed: %s %s\n", feed.ID, feed.Title)
		return nil
	}
	fmt.Fprintf(c.app.out, "subscribed: %s %s (%d stories)\n", feed.ID, feed.Title, len(feed.Stories))
	return nil
}

type feedsCommand struct {
	app *App
}

func (c *feedsCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	feeds, err := c.app.store.FindFeeds(database.FeedFilter{})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUNREAD\tTITLE\tURL")
	for _, f := range feeds {
		stories, err := c.app.store.FindStories(database.StoryFilter{FeedID: f.ID, Unread: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.ID, len(stories), f.Title, f.RSSLink)
	}
	return tw.Flush()
}

type storiesCommand struct {
	app    *App
	Unread bool `short:"u" long:"unread" description:"Only list unread stories"`
	Args   struct {
		FeedID string `positional-arg-name:"feed-id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *storiesCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	if _, err := c.app.store.FindFeed(c.Args.FeedID); err != nil {
		return err
	}
	stories, err := c.app.store.FindStories(database.StoryFilter{FeedID: c.Args.FeedID, Unread: c.Unread})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.app.out, 0, 4, 2, ' ', 0)
	for i := range stories {
		s := &stories[i]
		mark := "*"
		if s.Read {
			mark = " "
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, s.ID, s.TitleOr("(untitled)"))
	}
	return tw.Flush()
}

type openCommand struct {
	app  *App
	Args struct {
		StoryID string `positional-arg-name:"story-id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *openCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	story, err := c.app.fetcher.OpenStory(c.Args.StoryID)
	if err != nil {
		return err
	}
	printStory(c.app.out, story)
	return nil
}

type deleteCommand struct {
	app  *App
	Args struct {
		FeedID string `positional-arg-name:"feed-id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *deleteCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	n, err := c.app.store.DeleteFeeds(database.FeedFilter{ID: c.Args.FeedID})
	if err != nil {
		return err
	}
	if n == 0 {
		return feederr.Newf(feederr.NotFound, "delete feed", "no feed with id %s", c.Args.FeedID)
	}
	fmt.Fprintf(c.app.out, "deleted %s\n", c.Args.FeedID)
	return nil
}

type refreshCommand struct {
	app  *App
	Args struct {
		FeedID string `positional-arg-name:"feed-id" description:"Refresh only this feed"`
	} `positional-args:"yes"`
}

func (c *refreshCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	if c.Args.FeedID != "" {
		n, err := c.app.fetcher.RefreshFeed(c.app.ctx, c.Args.FeedID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "%s: %d new\n", c.Args.FeedID, n)
		return nil
	}

	results, err := c.app.fetcher.RefreshAll(c.app.ctx)
	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			fmt.Fprintf(c.app.out, "%s: %v\n", r.FeedID, r.Error)
			continue
		}
		fmt.Fprintf(c.app.out, "%s: %d new\n", r.FeedID, r.NewStories)
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d feeds failed to refresh", failed, len(results))
	}
	return nil
}

type seedCommand struct {
	app *App
}

func (c *seedCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	added, err := c.app.fetcher.Seed(c.app.ctx)
	fmt.Fprintf(c.app.out, "added %d feeds\n", added)
	return err
}

type importCommand struct {
	app  *App
	Args struct {
		File string `positional-arg-name:"file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *importCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	f, err := os.Open(c.Args.File)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := opml.Import(c.app.ctx, f, c.app.fetcher)
	fmt.Fprintf(c.app.out, "imported %d, existing %d, failed %d\n", res.Added, res.Existing, res.Failed)
	return err
}

type exportCommand struct {
	app  *App
	Args struct {
		File string `positional-arg-name:"file" description:"Output file, stdout when omitted"`
	} `positional-args:"yes"`
}

func (c *exportCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	feeds, err := c.app.store.FindFeeds(database.FeedFilter{})
	if err != nil {
		return err
	}
	data, err := opml.Export("storyline subscriptions", feeds)
	if err != nil {
		return err
	}
	if c.Args.File == "" {
		_, err = c.app.out.Write(data)
		return err
	}
	return os.WriteFile(c.Args.File, data, 0o644)
}

type serveCommand struct {
	app  *App
	Addr string `short:"a" long:"addr" env:"STORYLINE_ADDR" description:"Listen address, overrides the config"`
}

func (c *serveCommand) Execute([]string) error {
	if err := c.app.setupStore(); err != nil {
		return err
	}
	addr := c.app.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	return server.New(c.app.store, c.app.fetcher).Start(c.app.ctx, addr)
}

type versionCommand struct {
	app *App
}

func (c *versionCommand) Execute([]string) error {
	fmt.Fprintf(c.app.out, "storyline %s\n", Version)
	return nil
}

func printFeed(w io.Writer, f *model.Feed) {
	fmt.Fprintf(w, "%s\n%s\n", f.Title, f.Link)
	if f.Description != "" {
		fmt.Fprintf(w, "%s\n", f.Description)
	}
	optional := []struct {
		label string
		value *string
	}{
		{"language", f.Language},
		{"copyright", f.Copyright},
		{"editor", f.ManagingEditor},
		{"webmaster", f.WebMaster},
		{"published", f.PubDate},
		{"built", f.LastBuildDate},
		{"category", f.Category},
		{"generator", f.Generator},
		{"docs", f.Docs},
		{"cloud", f.Cloud},
		{"ttl", f.TTL},
	}
	for _, o := range optional {
		if o.value != nil {
			fmt.Fprintf(w, "%s: %s\n", o.label, *o.value)
		}
	}
	fmt.Fprintf(w, "%d stories\n", len(f.Stories))
}

func printStory(w io.Writer, s *model.Story) {
	fmt.Fprintf(w, "## %s\n", s.TitleOr("(untitled)"))
	for _, line := range []struct {
		label string
		value *string
	}{
		{"link", s.Link},
		{"date", s.PubDate},
		{"author", s.Author},
		{"creator", s.Creator},
	} {
		if line.value != nil {
			fmt.Fprintf(w, "%s: %s\n", line.label, *line.value)
		}
	}
	if body := s.Body(); body != "" {
		fmt.Fprintf(w, "\n%s\n", body)
	}
}
