// Package repo stores the records served by the development stub backend.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"sheratan/internal/domain"
)

var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

// Tx returns a repo that runs its statements in tx.
func (r Repo) Tx(tx *sql.Tx) Repo {
	r.tx = tx
	return r
}

func (r Repo) q() DBTX {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func marshal(v any, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshal(data string, out any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const missionColumns = `id,title,description,status,tags_json,metadata_json,created_at,updated_at`

func scanMission(row scanner) (domain.MissionRecord, error) {
	var (
		m              domain.MissionRecord
		tags, metadata string
	)
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Status, &tags, &metadata, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if err := unmarshal(tags, &m.Tags); err != nil {
		return m, fmt.Errorf("mission %s tags: %w", m.ID, err)
	}
	if err := unmarshal(metadata, &m.Metadata); err != nil {
		return m, fmt.Errorf("mission %s metadata: %w", m.ID, err)
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, m domain.MissionRecord) error {
	tags, err := marshal(m.Tags, "[]")
	if err != nil {
		return err
	}
	metadata, err := marshal(m.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.Title, m.Description, m.Status, tags, metadata, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.MissionRecord, error) {
	return scanMission(r.q().QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
}

func (r Repo) ListMissions(ctx context.Context) ([]domain.MissionRecord, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+missionColumns+` FROM missions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MissionRecord{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountMissions(ctx context.Context) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM missions`).Scan(&n)
	return n, err
}

// DeleteMission removes a mission; its tasks and jobs cascade.
func (r Repo) DeleteMission(ctx context.Context, id string) error {
	return affectedOne(r.q().ExecContext(ctx, `DELETE FROM missions WHERE id=?`, id))
}

const taskColumns = `id,mission_id,name,description,kind,status,params_json,created_at,updated_at`

func scanTask(row scanner) (domain.TaskRecord, error) {
	var (
		t      domain.TaskRecord
		params string
	)
	err := row.Scan(&t.ID, &t.MissionID, &t.Name, &t.Description, &t.Kind, &t.Status, &params, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := unmarshal(params, &t.Params); err != nil {
		return t, fmt.Errorf("task %s params: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.TaskRecord) error {
	params, err := marshal(t.Params, "{}")
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.MissionID, t.Name, t.Description, t.Kind, t.Status, params, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.TaskRecord, error) {
	return scanTask(r.q().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// ListTasks returns all tasks, or those of one mission when missionID is set.
func (r Repo) ListTasks(ctx context.Context, missionID string) ([]domain.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if missionID != "" {
		query += ` WHERE mission_id=?`
		args = append(args, missionID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TaskRecord{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const jobColumns = `id,task_id,status,payload_json,result_json,created_at,updated_at`

func scanJob(row scanner) (domain.JobRecord, error) {
	var (
		j       domain.JobRecord
		payload string
		result  sql.NullString
	)
	err := row.Scan(&j.ID, &j.TaskID, &j.Status, &payload, &result, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if err := unmarshal(payload, &j.Payload); err != nil {
		return j, fmt.Errorf("job %s payload: %w", j.ID, err)
	}
	if result.Valid {
		if err := unmarshal(result.String, &j.Result); err != nil {
			return j, fmt.Errorf("job %s result: %w", j.ID, err)
		}
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, j domain.JobRecord) error {
	payload, err := marshal(j.Payload, "{}")
	if err != nil {
		return err
	}
	var result any
	if j.Result != nil {
		s, err := marshal(j.Result, "")
		if err != nil {
			return err
		}
		result = s
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?)`,
		j.ID, j.TaskID, j.Status, payload, result, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.JobRecord, error) {
	return scanJob(r.q().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.JobRecord, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.JobRecord{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) UpdateJobStatus(ctx context.Context, id, status, updatedAt string) error {
	return affectedOne(r.q().ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id))
}

// SetJobResult stores a job outcome reported by a worker.
func (r Repo) SetJobResult(ctx context.Context, id, status string, result any, updatedAt string) error {
	data, err := marshal(result, "null")
	if err != nil {
		return err
	}
	return affectedOne(r.q().ExecContext(ctx, `UPDATE jobs SET status=?, result_json=?, updated_at=? WHERE id=?`, status, data, updatedAt, id))
}

func (r Repo) DeleteJob(ctx context.Context, id string) error {
	return affectedOne(r.q().ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id))
}

func (r Repo) UpsertWorker(ctx context.Context, w domain.WorkerRecord) error {
	caps, err := marshal(w.Capabilities, "[]")
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO workers(worker_id,capabilities_json,status,last_seen,endpoint) VALUES (?,?,?,?,?)
ON CONFLICT(worker_id) DO UPDATE SET capabilities_json=excluded.capabilities_json, status=excluded.status, last_seen=excluded.last_seen, endpoint=excluded.endpoint`,
		w.WorkerID, caps, w.Status, w.LastSeen, w.Endpoint)
	return err
}

func (r Repo) ListWorkers(ctx context.Context) ([]domain.WorkerRecord, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT worker_id,capabilities_json,status,last_seen,endpoint FROM workers ORDER BY worker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WorkerRecord{}
	for rows.Next() {
		var (
			w    domain.WorkerRecord
			caps string
		)
		if err := rows.Scan(&w.WorkerID, &caps, &w.Status, &w.LastSeen, &w.Endpoint); err != nil {
			return nil, err
		}
		if err := unmarshal(caps, &w.Capabilities); err != nil {
			return nil, fmt.Errorf("worker %s capabilities: %w", w.WorkerID, err)
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO projects(id,name,path,status,last_access) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Path, p.Status, p.LastAccess)
	return err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT p.id,p.name,p.path,p.status,p.last_access,
  (SELECT COUNT(*) FROM project_files f WHERE f.project_id=p.id AND f.type='file')
FROM projects p ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.Status, &p.LastAccess, &p.FileCount); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AddProjectFile records a file path; missing parent directories are added.
func (r Repo) AddProjectFile(ctx context.Context, projectID, filePath string) error {
	filePath = strings.Trim(path.Clean(filePath), "/")
	for dir := path.Dir(filePath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO project_files(project_id,path,type) VALUES (?,?,'directory')`, projectID, dir); err != nil {
			return err
		}
	}
	_, err := r.q().ExecContext(ctx, `INSERT OR REPLACE INTO project_files(project_id,path,type) VALUES (?,?,'file')`, projectID, filePath)
	return err
}

// ProjectFiles returns the project's files as a tree, directories first.
func (r Repo) ProjectFiles(ctx context.Context, projectID string) ([]domain.FileNode, error) {
	var exists int
	if err := r.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id=?`, projectID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	rows, err := r.q().QueryContext(ctx, `SELECT path,type FROM project_files WHERE project_id=? ORDER BY path`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type flat struct{ path, typ string }
	var all []flat
	for rows.Next() {
		var f flat
		if err := rows.Scan(&f.path, &f.typ); err != nil {
			return nil, err
		}
		all = append(all, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	children := map[string][]flat{}
	for _, f := range all {
		parent := path.Dir(f.path)
		if parent == "." {
			parent = ""
		}
		children[parent] = append(children[parent], f)
	}
	var build func(dir string) []domain.FileNode
	build = func(dir string) []domain.FileNode {
		items := children[dir]
		sort.SliceStable(items, func(a, b int) bool {
			if items[a].typ != items[b].typ {
				return items[a].typ == "directory"
			}
			return items[a].path < items[b].path
		})
		nodes := []domain.FileNode{}
		for _, f := range items {
			n := domain.FileNode{Name: path.Base(f.path), Path: f.path, Type: f.typ}
			if f.typ == "directory" {
				n.Children = build(f.path)
			}
			nodes = append(nodes, n)
		}
		return nodes
	}
	return build(""), nil
}

func (r Repo) SetBalance(ctx context.Context, userID string, balance float64) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO ledger_accounts(user_id,balance) VALUES (?,?)
ON CONFLICT(user_id) DO UPDATE SET balance=excluded.balance`, userID, balance)
	return err
}

func (r Repo) InsertTransfer(ctx context.Context, t domain.Transfer) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO ledger_transfers(id,from_user,to_user,amount,memo,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.FromUser, t.ToUser, t.Amount, t.Memo, t.CreatedAt)
	return err
}

// Ledger returns the balance and transfers of userID, newest transfer first.
func (r Repo) Ledger(ctx context.Context, userID string) (domain.LedgerInfo, error) {
	info := domain.LedgerInfo{UserID: userID, Transfers: []domain.Transfer{}}
	err := r.q().QueryRowContext(ctx, `SELECT balance FROM ledger_accounts WHERE user_id=?`, userID).Scan(&info.Balance)
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	if err != nil {
		return info, err
	}
	rows, err := r.q().QueryContext(ctx, `SELECT id,from_user,to_user,amount,memo,created_at FROM ledger_transfers
WHERE from_user=? OR to_user=? ORDER BY created_at DESC, id`, userID, userID)
	if err != nil {
		return info, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(&t.ID, &t.FromUser, &t.ToUser, &t.Amount, &t.Memo, &t.CreatedAt); err != nil {
			return info, err
		}
		info.Transfers = append(info.Transfers, t)
	}
	return info, rows.Err()
}
