package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coralcam/internal/dto"
	"coralcam/internal/model"
)

// FrameRepository implements repository.FrameRepository for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// SaveTelemetry stores a message and its objects in a single transaction.
// Messages without objects are not journaled.
func (r *FrameRepository) SaveTelemetry(ctx context.Context, msg *model.TelemetryMessage) error {
	if len(msg.ObjectsDetected) == 0 {
		return nil
	}
	capturedAt := msg.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO frames (frame_count, message_id, captured_at, inference_ms)
		VALUES (?, ?, ?, ?)
	`, msg.FrameCount, msg.MessageID, capturedAt.UTC(), msg.InferenceTime*1000)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	frameID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (frame_id, class_id, label, score, xmin, ymin, xmax, ymax)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obj := range msg.ObjectsDetected {
		if _, err := stmt.ExecContext(ctx, frameID, obj.ID, obj.Label, obj.Score,
			obj.BBox.XMin, obj.BBox.YMin, obj.BBox.XMax, obj.BBox.YMax); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// whereClause builds the frame filter shared by List and Count.
func whereClause(filter *dto.DetectionFilter) (string, []any) {
	var conditions []string
	var args []any

	if !filter.After.IsZero() {
		conditions = append(conditions, "f.captured_at >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "f.captured_at < ?")
		args = append(args, filter.Before.UTC())
	}
	if filter.Label != "" || filter.MinScore > 0 {
		sub := "EXISTS (SELECT 1 FROM detections d WHERE d.frame_id = f.id AND d.score >= ?"
		args = append(args, filter.MinScore)
		if filter.Label != "" {
			sub += " AND d.label = ?"
			args = append(args, filter.Label)
		}
		conditions = append(conditions, sub+")")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List returns journaled frames, newest first, with their detections.
func (r *FrameRepository) List(ctx context.Context, filter *dto.DetectionFilter) ([]model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT f.id, f.frame_count, f.message_id, f.captured_at, f.inference_ms FROM frames f` +
		where + ` ORDER BY f.captured_at DESC, f.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset())
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	frames := []model.FrameRecord{}
	index := make(map[int64]int)
	for rows.Next() {
		var f model.FrameRecord
		if err := rows.Scan(&f.ID, &f.FrameCount, &f.MessageID, &f.CapturedAt, &f.InferenceMs); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		f.Detections = []model.DetectionRecord{}
		index[f.ID] = len(frames)
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return frames, nil
	}

	placeholders := make([]string, len(frames))
	ids := make([]any, len(frames))
	for i, f := range frames {
		placeholders[i] = "?"
		ids[i] = f.ID
	}
	detRows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, frame_id, class_id, label, score, xmin, ymin, xmax, ymax
		FROM detections WHERE frame_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY frame_id, score DESC
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer detRows.Close()

	for detRows.Next() {
		var d model.DetectionRecord
		if err := detRows.Scan(&d.ID, &d.FrameID, &d.ClassID, &d.Label, &d.Score,
			&d.BBox.XMin, &d.BBox.YMin, &d.BBox.XMax, &d.BBox.YMax); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		i := index[d.FrameID]
		frames[i].Detections = append(frames[i].Detections, d)
	}
	return frames, detRows.Err()
}

// Count returns the number of frames matching filter, ignoring pagination.
func (r *FrameRepository) Count(ctx context.Context, filter *dto.DetectionFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM frames f`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// LabelCounts returns how often each label was detected since the given time, most frequent first.
func (r *FrameRepository) LabelCounts(ctx context.Context, since time.Time) ([]dto.LabelCount, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT d.label, COUNT(*) FROM detections d
		JOIN frames f ON f.id = d.frame_id
		WHERE f.captured_at >= ?
		GROUP BY d.label
		ORDER BY COUNT(*) DESC, d.label
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	counts := []dto.LabelCount{}
	for rows.Next() {
		var c dto.LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DeleteBefore removes frames captured before t, with their detections.
func (r *FrameRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `DELETE FROM frames WHERE captured_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete frames: %w", err)
	}
	return result.RowsAffected()
}
