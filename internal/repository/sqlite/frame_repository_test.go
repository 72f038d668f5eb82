package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coralcam/internal/dto"
	"coralcam/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func telemetry(frame uint64, at time.Time, objects ...model.TelemetryObject) *model.TelemetryMessage {
	if objects == nil {
		objects = []model.TelemetryObject{}
	}
	return &model.TelemetryMessage{
		FrameCount:      frame,
		InferenceTime:   0.015,
		ObjectsDetected: objects,
		MessageID:       "msg",
		CapturedAt:      at,
	}
}

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestFrameRepository_SaveAndList(t *testing.T) {
	repo := NewFrameRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	person := model.TelemetryObject{ID: 0, Label: "person", Score: 0.75, BBox: model.BBox{XMin: 1, YMin: 2, XMax: 30, YMax: 40}}
	dog := model.TelemetryObject{ID: 16, Label: "dog", Score: 0.5}

	if err := repo.SaveTelemetry(ctx, telemetry(1, base, person, dog)); err != nil {
		t.Fatalf("SaveTelemetry failed: %v", err)
	}
	if err := repo.SaveTelemetry(ctx, telemetry(2, base.Add(time.Second), dog)); err != nil {
		t.Fatalf("SaveTelemetry failed: %v", err)
	}

	frames, err := repo.List(ctx, &dto.DetectionFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].FrameCount != 2 {
		t.Errorf("Expected newest frame first, got frame %d", frames[0].FrameCount)
	}
	older := frames[1]
	if len(older.Detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(older.Detections))
	}
	if older.Detections[0].Label != "person" || older.Detections[0].BBox.YMax != 40 {
		t.Errorf("Unexpected detection: %+v", older.Detections[0])
	}
	if older.InferenceMs != 15 {
		t.Errorf("Expected 15 ms inference, got %v", older.InferenceMs)
	}
	if !older.CapturedAt.Equal(base) {
		t.Errorf("Expected captured_at %v, got %v", base, older.CapturedAt)
	}
}

func TestFrameRepository_SkipsEmptyMessages(t *testing.T) {
	repo := NewFrameRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.SaveTelemetry(ctx, telemetry(1, time.Now())); err != nil {
		t.Fatalf("SaveTelemetry failed: %v", err)
	}
	count, err := repo.Count(ctx, &dto.DetectionFilter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no journaled frames, got %d", count)
	}
}

func TestFrameRepository_Filters(t *testing.T) {
	repo := NewFrameRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		obj := model.TelemetryObject{ID: 0, Label: "person", Score: 0.5 + float32(i)*0.1}
		if i%2 == 1 {
			obj = model.TelemetryObject{ID: 2, Label: "car", Score: 0.9}
		}
		if err := repo.SaveTelemetry(ctx, telemetry(uint64(i+1), base.Add(time.Duration(i)*time.Minute), obj)); err != nil {
			t.Fatalf("SaveTelemetry failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   dto.DetectionFilter
		expected int
	}{
		{"all", dto.DetectionFilter{}, 5},
		{"by label", dto.DetectionFilter{Label: "car"}, 2},
		{"by score", dto.DetectionFilter{Label: "person", MinScore: 0.65}, 2},
		{"after", dto.DetectionFilter{After: base.Add(2 * time.Minute)}, 3},
		{"window", dto.DetectionFilter{After: base.Add(time.Minute), Before: base.Add(3 * time.Minute)}, 2},
	}

	for _, tt := range tests {
		count, err := repo.Count(ctx, &tt.filter)
		if err != nil {
			t.Fatalf("%s: Count failed: %v", tt.name, err)
		}
		if count != tt.expected {
			t.Errorf("%s: expected %d frames, got %d", tt.name, tt.expected, count)
		}
	}

	page, err := repo.List(ctx, &dto.DetectionFilter{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 2 || page[0].FrameCount != 3 {
		t.Errorf("Unexpected second page: %+v", page)
	}
}

func TestFrameRepository_LabelCountsAndDelete(t *testing.T) {
	repo := NewFrameRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	person := model.TelemetryObject{ID: 0, Label: "person", Score: 0.8}
	car := model.TelemetryObject{ID: 2, Label: "car", Score: 0.7}
	repo.SaveTelemetry(ctx, telemetry(1, base, person, car))
	repo.SaveTelemetry(ctx, telemetry(2, base.Add(time.Hour), person))

	counts, err := repo.LabelCounts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("LabelCounts failed: %v", err)
	}
	if len(counts) != 2 || counts[0].Label != "person" || counts[0].Count != 2 {
		t.Errorf("Unexpected label counts: %+v", counts)
	}

	deleted, err := repo.DeleteBefore(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted frame, got %d", deleted)
	}

	counts, err = repo.LabelCounts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("LabelCounts failed: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 1 {
		t.Errorf("Detections should cascade with their frame, got %+v", counts)
	}
}
