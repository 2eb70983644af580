package atlaspack

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver
)

// FrameDB records packed atlases and their frames in a sqlite database.
type FrameDB struct {
	db *sql.DB
}

// StoredAtlas is an atlas row.
type StoredAtlas struct {
	Name          string
	Width, Height int
	Digest        uint64
	Frames        int
}

// NewFrameDB opens, creating if necessary, the database in file.
func NewFrameDB(file string) (*FrameDB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS atlas (id INTEGER PRIMARY KEY NOT NULL, name TEXT NOT NULL UNIQUE, width INTEGER NOT NULL, height INTEGER NOT NULL, digest TEXT NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS frame (atlas_id INTEGER NOT NULL, seq INTEGER NOT NULL, identifier TEXT NOT NULL, basename TEXT NOT NULL, idx INTEGER NOT NULL, x INTEGER NOT NULL, y INTEGER NOT NULL, width INTEGER NOT NULL, height INTEGER NOT NULL, trim_x INTEGER, trim_y INTEGER, source_width INTEGER, source_height INTEGER, UNIQUE(atlas_id, identifier), FOREIGN KEY(atlas_id) REFERENCES atlas(id) ON DELETE CASCADE)"); err != nil {
		db.Close()
		return nil, err
	}

	return &FrameDB{
		db: db,
	}, nil
}

// Close closes the database.
func (db *FrameDB) Close() error {
	return db.db.Close()
}

// Store records a under name, replacing anything previously stored under
// the same name.
func (db *FrameDB) Store(name string, a *Atlas) (err error) {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM frame WHERE atlas_id IN (SELECT id FROM atlas WHERE name = ?)", name); err != nil {
		return err
	}

	if _, err = tx.Exec("DELETE FROM atlas WHERE name = ?", name); err != nil {
		return err
	}

	b := a.Canvas.Bounds()
	result, err := tx.Exec("INSERT INTO atlas (name, width, height, digest) VALUES (?, ?, ?, ?)", name, b.Dx(), b.Dy(), formatDigest(a.Digest()))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO frame (atlas_id, seq, identifier, basename, idx, x, y, width, height, trim_x, trim_y, source_width, source_height) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, f := range a.Registry.frames {
		var trimX, trimY, sw, sh sql.NullInt64
		if f.Trim != nil {
			trimX = sql.NullInt64{Int64: int64(f.Trim.X), Valid: true}
			trimY = sql.NullInt64{Int64: int64(f.Trim.Y), Valid: true}
			sw = sql.NullInt64{Int64: int64(f.Trim.SourceWidth), Valid: true}
			sh = sql.NullInt64{Int64: int64(f.Trim.SourceHeight), Valid: true}
		}
		p := f.Placement
		if _, err = stmt.Exec(id, i, f.Identifier, f.Basename, f.Index, p.X, p.Y, p.Width, p.Height, trimX, trimY, sw, sh); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FindAtlas returns the atlas stored under name, or nil if there isn't one.
func (db *FrameDB) FindAtlas(name string) (*StoredAtlas, error) {
	a := StoredAtlas{Name: name}
	var digest string
	switch err := db.db.QueryRow("SELECT a.width, a.height, a.digest, COUNT(f.seq) FROM atlas AS a LEFT JOIN frame AS f ON f.atlas_id = a.id WHERE a.name = ? GROUP BY a.id", name).Scan(&a.Width, &a.Height, &digest, &a.Frames); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
		d, err := strconv.ParseUint(digest, 16, 64)
		if err != nil {
			return nil, err
		}
		a.Digest = d
		return &a, nil
	default:
		return nil, err
	}
}

// FindFrame returns the frame with the given identifier in the atlas stored
// under name, or nil if there isn't one.
func (db *FrameDB) FindFrame(name, identifier string) (*Frame, error) {
	f := Frame{Identifier: identifier}
	var trimX, trimY, sw, sh sql.NullInt64
	switch err := db.db.QueryRow("SELECT f.basename, f.idx, f.x, f.y, f.width, f.height, f.trim_x, f.trim_y, f.source_width, f.source_height FROM frame AS f JOIN atlas AS a ON f.atlas_id = a.id WHERE a.name = ? AND f.identifier = ?", name, identifier).Scan(&f.Basename, &f.Index, &f.Placement.X, &f.Placement.Y, &f.Placement.Width, &f.Placement.Height, &trimX, &trimY, &sw, &sh); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
		if trimX.Valid {
			f.Trim = &Trim{
				X:            int(trimX.Int64),
				Y:            int(trimY.Int64),
				SourceWidth:  int(sw.Int64),
				SourceHeight: int(sh.Int64),
			}
		}
		return &f, nil
	default:
		return nil, err
	}
}

// Identifiers returns the frame identifiers of the atlas stored under name,
// in packing order.
func (db *FrameDB) Identifiers(name string) ([]string, error) {
	rows, err := db.db.Query("SELECT f.identifier FROM frame AS f JOIN atlas AS a ON f.atlas_id = a.id WHERE a.name = ? ORDER BY f.seq", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func formatDigest(d uint64) string {
	return fmt.Sprintf("%016x", d)
}
