package database

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/model"
)

const feedColumns = `id, title, link, description, language, copyright, managing_editor, web_master,
	pub_date, last_build_date, category, generator, docs, cloud, ttl, rss_link, fetched_at`

const storyColumns = `id, feed_id, title, link, description, author, creator, pub_date, content, is_read, scroll`

// sqlStore holds the queries shared by both backends. Queries are written
// with ? placeholders and rewritten by rebind for the driver in use.
type sqlStore struct {
	conn   *sql.DB
	rebind func(string) string
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders as $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fail(op string, err error) error {
	return feederr.New(feederr.PersistenceFailed, op, err)
}

// --- Feed Methods ---

// InsertFeed stores a new feed together with its stories.
func (s *sqlStore) InsertFeed(feed *model.Feed) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fail("insert feed", err)
	}
	if err := s.insertFeed(tx, feed); err != nil {
		tx.Rollback()
		return fail("insert feed", err)
	}
	if err := s.insertStories(tx, feed); err != nil {
		tx.Rollback()
		return fail("insert feed", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("insert feed", err)
	}
	return nil
}

func (s *sqlStore) insertFeed(tx *sql.Tx, f *model.Feed) error {
	_, err := tx.Exec(s.rebind(`INSERT INTO feeds (`+feedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.Title, f.Link, f.Description, f.Language, f.Copyright, f.ManagingEditor, f.WebMaster,
		f.PubDate, f.LastBuildDate, f.Category, f.Generator, f.Docs, f.Cloud, f.TTL, f.RSSLink, nullTime(f))
	return err
}

func (s *sqlStore) insertStories(tx *sql.Tx, f *model.Feed) error {
	if len(f.Stories) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(s.rebind(`INSERT INTO stories (` + storyColumns + `, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range f.Stories {
		st := &f.Stories[i]
		st.FeedID = f.ID
		if _, err := stmt.Exec(st.ID, st.FeedID, st.Title, st.Link, st.Description, st.Author,
			st.Creator, st.PubDate, st.Content, st.Read, st.Scroll, i); err != nil {
			return err
		}
	}
	return nil
}

// FindFeed returns the feed with the given id and its stories in document
// order.
func (s *sqlStore) FindFeed(id string) (*model.Feed, error) {
	row := s.conn.QueryRow(s.rebind("SELECT "+feedColumns+" FROM feeds WHERE id = ?"), id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, feederr.Newf(feederr.NotFound, "find feed", "no feed with id %s", id)
	}
	if err != nil {
		return nil, fail("find feed", err)
	}

	f.Stories, err = s.FindStories(StoryFilter{FeedID: id})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FindFeeds returns matching feeds ordered by title, without their stories.
func (s *sqlStore) FindFeeds(filter FeedFilter) ([]model.Feed, error) {
	where, args := filter.where()
	rows, err := s.conn.Query(s.rebind("SELECT "+feedColumns+" FROM feeds"+where+" ORDER BY title, id"), args...)
	if err != nil {
		return nil, fail("find feeds", err)
	}
	defer rows.Close()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fail("find feeds", err)
		}
		feeds = append(feeds, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("find feeds", err)
	}
	return feeds, nil
}

// DeleteFeeds removes matching feeds and their stories. An empty filter is
// rejected.
func (s *sqlStore) DeleteFeeds(filter FeedFilter) (int64, error) {
	if filter.empty() {
		return 0, fail("delete feeds", errors.New("refusing to delete without a filter"))
	}
	where, args := filter.where()

	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fail("delete feeds", err)
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM stories WHERE feed_id IN (SELECT id FROM feeds"+where+")"), args...); err != nil {
		tx.Rollback()
		return 0, fail("delete feeds", err)
	}
	res, err := tx.Exec(s.rebind("DELETE FROM feeds"+where), args...)
	if err != nil {
		tx.Rollback()
		return 0, fail("delete feeds", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fail("delete feeds", err)
	}
	return res.RowsAffected()
}

// ReplaceFeed overwrites the stored feed row and swaps in the new stories.
func (s *sqlStore) ReplaceFeed(f *model.Feed) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fail("replace feed", err)
	}

	res, err := tx.Exec(s.rebind(`UPDATE feeds SET title = ?, link = ?, description = ?, language = ?,
		copyright = ?, managing_editor = ?, web_master = ?, pub_date = ?, last_build_date = ?,
		category = ?, generator = ?, docs = ?, cloud = ?, ttl = ?, rss_link = ?, fetched_at = ?
		WHERE id = ?`),
		f.Title, f.Link, f.Description, f.Language, f.Copyright, f.ManagingEditor, f.WebMaster,
		f.PubDate, f.LastBuildDate, f.Category, f.Generator, f.Docs, f.Cloud, f.TTL, f.RSSLink,
		nullTime(f), f.ID)
	if err != nil {
		tx.Rollback()
		return fail("replace feed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return feederr.Newf(feederr.NotFound, "replace feed", "no feed with id %s", f.ID)
	}

	if _, err := tx.Exec(s.rebind("DELETE FROM stories WHERE feed_id = ?"), f.ID); err != nil {
		tx.Rollback()
		return fail("replace feed", err)
	}
	if err := s.insertStories(tx, f); err != nil {
		tx.Rollback()
		return fail("replace feed", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("replace feed", err)
	}
	return nil
}

// --- Story Methods ---

// FindStory returns the story with the given id.
func (s *sqlStore) FindStory(id string) (*model.Story, error) {
	row := s.conn.QueryRow(s.rebind("SELECT "+storyColumns+" FROM stories WHERE id = ?"), id)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, feederr.Newf(feederr.NotFound, "find story", "no story with id %s", id)
	}
	if err != nil {
		return nil, fail("find story", err)
	}
	return st, nil
}

// FindStories returns matching stories grouped by feed, in document order.
func (s *sqlStore) FindStories(filter StoryFilter) ([]model.Story, error) {
	where, args := filter.where()
	rows, err := s.conn.Query(s.rebind("SELECT "+storyColumns+" FROM stories"+where+" ORDER BY feed_id, position"), args...)
	if err != nil {
		return nil, fail("find stories", err)
	}
	defer rows.Close()

	var stories []model.Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fail("find stories", err)
		}
		stories = append(stories, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("find stories", err)
	}
	return stories, nil
}

// UpdateStories sets read state and scroll position on matching stories and
// returns how many were changed.
func (s *sqlStore) UpdateStories(filter StoryFilter, update StoryUpdate) (int64, error) {
	var sets []string
	var args []interface{}
	if update.Read != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, *update.Read)
	}
	if update.Scroll != nil {
		sets = append(sets, "scroll = ?")
		args = append(args, *update.Scroll)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	where, whereArgs := filter.where()
	res, err := s.conn.Exec(s.rebind("UPDATE stories SET "+strings.Join(sets, ", ")+where), append(args, whereArgs...)...)
	if err != nil {
		return 0, fail("update stories", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail("update stories", err)
	}
	return n, nil
}

// --- Scanning ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row scanner) (*model.Feed, error) {
	var f model.Feed
	var fetchedAt sql.NullTime
	err := row.Scan(&f.ID, &f.Title, &f.Link, &f.Description, &f.Language, &f.Copyright,
		&f.ManagingEditor, &f.WebMaster, &f.PubDate, &f.LastBuildDate, &f.Category, &f.Generator,
		&f.Docs, &f.Cloud, &f.TTL, &f.RSSLink, &fetchedAt)
	if err != nil {
		return nil, err
	}
	if fetchedAt.Valid {
		f.FetchedAt = fetchedAt.Time.UTC()
	}
	return &f, nil
}

func scanStory(row scanner) (*model.Story, error) {
	var st model.Story
	err := row.Scan(&st.ID, &st.FeedID, &st.Title, &st.Link, &st.Description, &st.Author,
		&st.Creator, &st.PubDate, &st.Content, &st.Read, &st.Scroll)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func nullTime(f *model.Feed) sql.NullTime {
	if f.FetchedAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: f.FetchedAt.UTC(), Valid: true}
}

// whereClause accumulates AND-ed conditions.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, arg interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *whereClause) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
