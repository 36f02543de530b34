package store

import (
	"context"
	"errors"
	"testing"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

func TestUpsertMentor_CreateAndUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := &models.Mentor{UserID: "M1", DisplayName: "Alice", Bio: "Go"}
	if err := s.UpsertMentor(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetMentor(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Availability != models.AvailabilityAvailable {
		t.Errorf("Availability = %q, want available", got.Availability)
	}
	registered := got.RegisteredAt

	if err := s.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "Alice B", Availability: models.AvailabilityBusy}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetMentor(ctx, "M1")
	if got.DisplayName != "Alice B" || got.Availability != models.AvailabilityBusy {
		t.Errorf("after update = %+v", got)
	}
	if !got.RegisteredAt.Equal(registered) {
		t.Errorf("RegisteredAt changed: %v -> %v", registered, got.RegisteredAt)
	}

	all, _ := s.ListMentors(ctx)
	if len(all) != 1 {
		t.Errorf("mentors = %d, want 1", len(all))
	}
}

func TestUpsertMentor_Validation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.UpsertMentor(ctx, &models.Mentor{DisplayName: "x"}); err == nil {
		t.Error("expected error without user id")
	}
	if err := s.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "x", Availability: "asleep"}); err == nil {
		t.Error("expected error for invalid availability")
	}
}

func TestListAvailableMentors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "a"})
	s.UpsertMentor(ctx, &models.Mentor{UserID: "M2", DisplayName: "b", Availability: models.AvailabilityBusy})
	s.UpsertMentor(ctx, &models.Mentor{UserID: "M3", DisplayName: "c"})

	avail, err := s.ListAvailableMentors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(avail) != 2 {
		t.Fatalf("available = %d, want 2", len(avail))
	}
	for _, m := range avail {
		if m.UserID == "M2" {
			t.Error("busy mentor listed as available")
		}
	}
}

func TestSetMentorAvailability(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "a"})

	if err := s.SetMentorAvailability(ctx, "M1", models.AvailabilityOffline); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetMentor(ctx, "M1")
	if got.Availability != models.AvailabilityOffline {
		t.Errorf("Availability = %q", got.Availability)
	}
	if err := s.SetMentorAvailability(ctx, "nobody", models.AvailabilityBusy); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.SetMentorAvailability(ctx, "M1", "lunch"); err == nil {
		t.Error("expected error for invalid availability")
	}
}

func TestDeleteMentor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "a"})

	if err := s.DeleteMentor(ctx, "M1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMentor(ctx, "M1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMentor after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMentor(ctx, "M1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}
