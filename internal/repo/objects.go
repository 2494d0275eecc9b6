package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"aviary/internal/domain"
)

// ObjectRecord is the stored form of an object: its catalog row plus the
// serialized payload and the optional raw file content.
type ObjectRecord struct {
	UUID          string
	OwnerID       string
	OwnerUsername string
	ObjectType    domain.ObjectType
	Description   *string
	Alias         *string
	Visibility    domain.Visibility
	Version       string
	ObjectHash    *string
	JSONString    string
	FileSuffix    *string
	FileMimeType  *string
	FileBytes     []byte
	CreatedAt     string
	LastUpdatedAt string
}

func (r Repo) InsertObject(ctx context.Context, o ObjectRecord) error {
	if o.UUID == "" {
		return errors.New("uuid required")
	}
	if o.OwnerID == "" {
		return errors.New("owner_id required")
	}
	if o.CreatedAt == "" {
		o.CreatedAt = now()
	}
	if o.LastUpdatedAt == "" {
		o.LastUpdatedAt = o.CreatedAt
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO objects(uuid,owner_id,object_type,description,alias,visibility,version,object_hash,json_string,file_suffix,file_mime_type,file_bytes,created_at,last_updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.UUID, o.OwnerID, string(o.ObjectType), o.Description, o.Alias, string(o.Visibility),
		o.Version, o.ObjectHash, o.JSONString, o.FileSuffix, o.FileMimeType, o.FileBytes,
		o.CreatedAt, o.LastUpdatedAt)
	return err
}

const objectColumns = `o.uuid,o.owner_id,u.username,o.object_type,o.description,o.alias,o.visibility,o.version,o.object_hash,o.json_string,o.file_suffix,o.file_mime_type,o.created_at,o.last_updated_at`

func scanObject(scan func(...any) error) (ObjectRecord, error) {
	var o ObjectRecord
	err := scan(&o.UUID, &o.OwnerID, &o.OwnerUsername, &o.ObjectType, &o.Description, &o.Alias,
		&o.Visibility, &o.Version, &o.ObjectHash, &o.JSONString, &o.FileSuffix, &o.FileMimeType,
		&o.CreatedAt, &o.LastUpdatedAt)
	if err == sql.ErrNoRows {
		return ObjectRecord{}, ErrNotFound
	}
	return o, err
}

// GetObject fetches an object by uuid. File bytes are not loaded; use
// GetObjectFile for the raw content.
func (r Repo) GetObject(ctx context.Context, uuid string) (ObjectRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects o JOIN users u ON u.id=o.owner_id WHERE o.uuid=?`, uuid)
	return scanObject(row.Scan)
}

// GetObjectByAlias fetches an object by its owner's username and alias.
func (r Repo) GetObjectByAlias(ctx context.Context, ownerUsername, alias string) (ObjectRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects o JOIN users u ON u.id=o.owner_id WHERE u.username=? AND o.alias=?`,
		ownerUsername, alias)
	return scanObject(row.Scan)
}

// GetObjectUUIDByHash returns the uuid of the newest object with the hash.
func (r Repo) GetObjectUUIDByHash(ctx context.Context, hash string) (string, error) {
	var uuid string
	err := r.DB.QueryRowContext(ctx,
		`SELECT uuid FROM objects WHERE object_hash=? ORDER BY created_at DESC LIMIT 1`, hash).Scan(&uuid)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return uuid, err
}

// GetObjectFile returns the raw file content of a file-backed object.
func (r Repo) GetObjectFile(ctx context.Context, uuid string) ([]byte, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `SELECT file_bytes FROM objects WHERE uuid=?`, uuid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}

// SetObjectPayload overwrites the serialized payload, used when the payload
// arrives out of band after the catalog row was created.
func (r Repo) SetObjectPayload(ctx context.Context, uuid, jsonString string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE objects SET json_string=?, last_updated_at=? WHERE uuid=?`, jsonString, now(), uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetObjectFile stores the raw file content of a file-backed object.
func (r Repo) SetObjectFile(ctx context.Context, uuid string, data []byte) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE objects SET file_bytes=?, last_updated_at=? WHERE uuid=?`, data, now(), uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ObjectPatch carries the mutable fields of an object; nil means unchanged.
type ObjectPatch struct {
	Description *string
	Alias       *string
	Visibility  *domain.Visibility
	JSONString  *string
}

// UpdateObject applies a patch to an object owned by ownerID.
func (r Repo) UpdateObject(ctx context.Context, uuid, ownerID string, p ObjectPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*p.Description))
	}
	if p.Alias != nil {
		fields = append(fields, "alias=?")
		args = append(args, nullable(*p.Alias))
	}
	if p.Visibility != nil {
		fields = append(fields, "visibility=?")
		args = append(args, string(*p.Visibility))
	}
	if p.JSONString != nil {
		fields = append(fields, "json_string=?")
		args = append(args, *p.JSONString)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "last_updated_at=?")
	args = append(args, now(), uuid, ownerID)
	res, err := r.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE objects SET %s WHERE uuid=? AND owner_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteObject removes an object owned by ownerID.
func (r Repo) DeleteObject(ctx context.Context, uuid, ownerID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM objects WHERE uuid=? AND owner_id=?`, uuid, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ObjectFilter selects and paginates an owner's objects.
type ObjectFilter struct {
	Types         []domain.ObjectType
	Visibility    []domain.Visibility
	SearchQuery   string
	Page          int
	PageSize      int
	SortAscending bool
}

// ListObjects returns the owner's objects matching the filter.
func (r Repo) ListObjects(ctx context.Context, ownerID string, f ObjectFilter) ([]ObjectRecord, error) {
	clauses := []string{"o.owner_id=?"}
	args := []any{ownerID}
	if len(f.Types) > 0 {
		clauses = append(clauses, "o.object_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Visibility) > 0 {
		clauses = append(clauses, "o.visibility IN ("+placeholders(len(f.Visibility))+")")
		for _, v := range f.Visibility {
			args = append(args, string(v))
		}
	}
	if f.SearchQuery != "" {
		clauses = append(clauses, "o.description LIKE ?")
		args = append(args, "%"+f.SearchQuery+"%")
	}
	order := "DESC"
	if f.SortAscending {
		order = "ASC"
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 10
	}
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	query := `SELECT ` + objectColumns + ` FROM objects o JOIN users u ON u.id=o.owner_id WHERE ` +
		strings.Join(clauses, " AND ") +
		` ORDER BY o.created_at ` + order + `, o.uuid ` + order + ` LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ObjectRecord
	for rows.Next() {
		o, err := scanObject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
